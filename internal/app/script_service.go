package app

import (
	"context"
	"sync"

	"github.com/dokzlo13/wemod/internal/config"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/kv"
	"github.com/dokzlo13/wemod/internal/script"
)

// ScriptService wraps the Lua runtime.
type ScriptService struct {
	Runtime *script.Runtime
}

// NewScriptService loads the configured script. It returns nil when no
// script is configured.
func NewScriptService(cfg *config.Config, registry *engine.Registry, kvm *kv.Manager) (*ScriptService, error) {
	if cfg.Script == "" {
		return nil, nil
	}

	runtime := script.NewRuntime(registry, kvm)
	if err := runtime.LoadScript(cfg.Script); err != nil {
		runtime.Close()
		return nil, err
	}
	return &ScriptService{Runtime: runtime}, nil
}

// Start begins the Lua worker goroutine - the only goroutine that touches Lua.
func (s *ScriptService) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Runtime.Run(ctx)
	}()
}

// Close closes the Lua runtime.
func (s *ScriptService) Close() {
	s.Runtime.Close()
}
