package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wemod/internal/config"
	"github.com/dokzlo13/wemod/internal/db"
	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/eventbus"
	"github.com/dokzlo13/wemod/internal/hub"
	"github.com/dokzlo13/wemod/internal/kv"
	"github.com/dokzlo13/wemod/internal/ledger"
	"github.com/dokzlo13/wemod/internal/metrics"
	"github.com/dokzlo13/wemod/internal/notify"
	"github.com/dokzlo13/wemod/internal/transport"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB // nil when state is kept in memory
	KV     *kv.Manager
	Ledger *ledger.Ledger // nil when disabled
	Bus    *eventbus.Bus

	soap   *transport.SOAPClient
	Client transport.Client

	// Devices
	Registry *engine.Registry
	Hubs     map[string]*hub.Router
	Poller   *engine.Poller

	// Outer surfaces
	Notify  *notify.Server
	MQTT    *MQTTService
	History *metrics.History
	Script  *ScriptService

	ready atomic.Bool
	wg    sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{
		cfg:      cfg,
		Registry: engine.NewRegistry(),
		Hubs:     make(map[string]*hub.Router),
		Poller:   engine.NewPoller(cfg.Polling.Interval.Duration()),
		Bus:      eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize()),
	}

	// Initialize database; without a path all state is in memory
	if cfg.Database.Path != "" {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.KV = kv.NewManager(database.DB)
		if cfg.Ledger.Enabled {
			s.Ledger = ledger.New(database.DB)
		}
	} else {
		log.Warn().Msg("No database path configured, device state will not survive restarts")
		s.KV = kv.NewManager(nil)
	}

	// Transport, audited when the ledger is on
	s.soap = transport.NewSOAPClient(cfg.Transport.Timeout.Duration(), cfg.Transport.RateLimitRPS)
	s.Client = s.soap
	if s.Ledger != nil {
		s.Client = ledger.NewAuditedClient(s.soap, s.Ledger)
	}

	if cfg.InfluxDB.Enabled {
		history, err := metrics.Connect(context.Background(), metrics.Config{
			Enabled:       true,
			URL:           cfg.InfluxDB.URL,
			Token:         cfg.InfluxDB.Token,
			Org:           cfg.InfluxDB.Org,
			Bucket:        cfg.InfluxDB.Bucket,
			BatchSize:     cfg.InfluxDB.BatchSize,
			FlushInterval: cfg.InfluxDB.FlushInterval.Duration(),
		})
		if err != nil {
			// history is optional; devices keep working without it
			log.Warn().Err(err).Msg("InfluxDB unavailable, energy history disabled")
		} else {
			s.History = history
		}
	}

	if err := s.buildDevices(); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Notify.Enabled {
		s.Notify = notify.NewServer(cfg.Notify.Host, cfg.Notify.Port, &dispatcher{s: s}, s.ready.Load)
	}

	var err error
	if s.Script, err = NewScriptService(cfg, s.Registry, s.KV); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.MQTT.Enabled {
		if s.MQTT, err = NewMQTTService(cfg, s.Registry); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.subscribe()
	return s, nil
}

// subscribe connects the change fan-out to its consumers.
func (s *Services) subscribe() {
	if s.MQTT != nil {
		s.Bus.Subscribe(eventbus.EventTypeChange, func(e eventbus.Event) {
			s.MQTT.Mirror.Publish(e.Change)
		})
		s.Bus.Subscribe(eventbus.EventTypeReady, func(eventbus.Event) {
			for _, a := range s.Registry.All() {
				s.MQTT.Mirror.PublishAll(a.Accessory())
			}
		})
	}
	if s.Script != nil {
		s.Bus.Subscribe(eventbus.EventTypeChange, func(e eventbus.Event) {
			s.Script.Runtime.OnChange(e.Change)
		})
		s.Bus.Subscribe(eventbus.EventTypeReady, func(eventbus.Event) {
			s.Script.Runtime.OnReady()
		})
	}
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if s.Script != nil {
		s.Script.Start(ctx, &s.wg)
	}

	if s.MQTT != nil {
		if err := s.MQTT.Start(); err != nil {
			return err
		}
	}

	if s.Notify != nil {
		s.goRun(func() {
			if err := s.Notify.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(fmt.Errorf("notification server: %w", err))
			}
		})
	}

	s.goRun(func() {
		s.refreshAll(ctx)
		s.ready.Store(true)
		s.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeReady})
		log.Info().Int("devices", len(s.Registry.All())).Msg("All devices refreshed")
	})

	if s.Poller.Len() > 0 {
		s.goRun(func() {
			if err := s.Poller.Run(ctx); err != nil {
				onFatalError(err)
			}
		})
	}

	if s.Ledger != nil {
		s.goRun(func() { s.runLedgerCleanup(ctx) })
	}

	return nil
}

func (s *Services) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// refreshAll reads every device once, in parallel.
func (s *Services) refreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, a := range s.Registry.All() {
		wg.Add(1)
		go func(a engine.Adapter) {
			defer wg.Done()
			a.RequestRefresh(ctx)
		}(a)
	}
	wg.Wait()
}

// Ready reports whether the initial refresh completed.
func (s *Services) Ready() bool {
	return s.ready.Load()
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// ResetState clears the persisted context of every configured device.
// It must run before the services are built.
func ResetState(cfg *config.Config) error {
	if cfg.Database.Path == "" {
		return nil
	}
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	manager := kv.NewManager(database.DB)
	var errs []error
	for _, d := range cfg.Devices {
		if err := manager.Bucket(deviceBucket(d.ID)).Clear(); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", d.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Stop waits for background services and releases all resources.
// The context passed to Start must already be cancelled.
func (s *Services) Stop() error {
	s.wg.Wait()
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	s.Registry.Close()

	if s.MQTT != nil {
		s.MQTT.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	s.Bus.Close(ctx)
	cancel()

	if s.Script != nil {
		s.Script.Close()
	}
	if s.History != nil {
		s.History.Close()
	}
	if s.soap != nil {
		s.soap.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
