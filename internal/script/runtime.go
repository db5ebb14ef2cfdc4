// Package script runs user Lua hooks on characteristic changes. All Lua
// execution happens on the goroutine started by Run.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/kv"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = errors.New("lua runtime closed")

// Hook names looked up as globals in the loaded script.
const (
	HookChange = "on_change"
	HookReady  = "on_ready"
)

const defaultQueueSize = 100

// Work is executed on the Lua goroutine.
type Work func(ctx context.Context, L *lua.LState)

// Devices resolves device identities to adapters.
type Devices interface {
	Get(id string) (engine.Adapter, bool)
	All() []engine.Adapter
}

// Runtime owns one Lua state and the single goroutine that touches it.
type Runtime struct {
	L       *lua.LState
	devices Devices

	workQueue chan Work

	// closing is closed to stop accepting work
	closing   chan struct{}
	closeOnce sync.Once

	// writes started by wemo.set
	writeCtx    context.Context
	cancelWrite context.CancelFunc
	writes      sync.WaitGroup
}

// NewRuntime creates a runtime with the log, wemo and kv modules preloaded.
// kvm may be nil, in which case kv buckets live in memory.
func NewRuntime(devices Devices, kvm *kv.Manager) *Runtime {
	if kvm == nil {
		kvm = kv.NewManager(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		L:           lua.NewState(),
		devices:     devices,
		workQueue:   make(chan Work, defaultQueueSize),
		closing:     make(chan struct{}),
		writeCtx:    ctx,
		cancelWrite: cancel,
	}

	r.L.PreloadModule("log", logLoader)
	r.L.PreloadModule("wemo", (&deviceModule{r: r}).Loader)
	r.L.PreloadModule("kv", (&kvModule{manager: kvm}).Loader)
	return r
}

// LoadScript executes a script file. Must be called before Run.
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

// LoadString executes script source. Must be called before Run.
func (r *Runtime) LoadString(src string) error {
	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

// Do queues work without blocking. It returns false if the runtime is
// closing, the queue is full or ctx is done.
func (r *Runtime) Do(ctx context.Context, work Work) bool {
	select {
	case <-r.closing:
		return false
	case <-ctx.Done():
		return false
	default:
	}

	select {
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// Call queues work and waits for its result.
func (r *Runtime) Call(ctx context.Context, fn func(L *lua.LState) error) error {
	done := make(chan error, 1)
	work := func(_ context.Context, L *lua.LState) {
		done <- fn(L)
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- work:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// OnChange schedules the on_change hook for one characteristic change.
func (r *Runtime) OnChange(ch accessory.Change) {
	r.Do(context.Background(), func(_ context.Context, L *lua.LState) {
		r.callHook(L, HookChange,
			lua.LString(ch.AccessoryID),
			lua.LString(ch.Characteristic),
			lua.LNumber(ch.Value))
	})
}

// OnReady schedules the on_ready hook.
func (r *Runtime) OnReady() {
	r.Do(context.Background(), func(_ context.Context, L *lua.LState) {
		r.callHook(L, HookReady)
	})
}

func (r *Runtime) callHook(L *lua.LState, name string, args ...lua.LValue) {
	fn, ok := L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		log.Error().Err(err).Str("hook", name).Msg("Lua hook failed")
	}
}

// Run executes queued work until ctx is done or the runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain(ctx)
			return
		case <-r.closing:
			r.drain(ctx)
			return
		case work := <-r.workQueue:
			r.execute(ctx, work)
		}
	}
}

func (r *Runtime) drain(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.execute(ctx, work)
		default:
			return
		}
	}
}

func (r *Runtime) execute(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	work(ctx, r.L)
}

// Close stops accepting work and cancels writes started by the script.
// Call it after Run has returned; the Lua state is closed here.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		r.cancelWrite()
		r.writes.Wait()
		r.L.Close()
	})
}
