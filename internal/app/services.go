package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/config"
	"github.com/dokzlo13/luxd/internal/db"
	"github.com/dokzlo13/luxd/internal/eventbus"
	"github.com/dokzlo13/luxd/internal/httpapi"
	"github.com/dokzlo13/luxd/internal/hue"
	"github.com/dokzlo13/luxd/internal/ledger"
	"github.com/dokzlo13/luxd/internal/notify"
	"github.com/dokzlo13/luxd/internal/profile"
	"github.com/dokzlo13/luxd/internal/script"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Store    *profile.Store
	Bus      *eventbus.Bus
	Notifier notify.Publisher

	// Scripting (nil when no script is configured)
	Lua *script.Runtime

	// Connected in Start, after the bridge is reachable
	Bridge      *hue.Bridge
	Coordinator *Coordinator
	Refresh     *RefreshService
	API         *httpapi.Server
}

// NewServices creates all services with proper dependency injection
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = profile.NewStore(database.DB)
	s.Bus = eventbus.New()

	if cfg.MQTT.Enabled() {
		mqtt, err := notify.Connect(cfg.MQTT)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Notifier = mqtt
	} else {
		log.Info().Msg("MQTT not configured, notifications disabled")
		s.Notifier = notify.Nop{}
	}

	if cfg.Script != "" {
		s.Lua = script.NewRuntime()
	}

	return s, nil
}

// Start connects to the Hue bridge and starts all background services
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	host := s.cfg.Hue.Bridge
	if host == "" {
		discovered, err := hue.Discover(ctx, s.cfg.Hue.DiscoveryTimeout.Duration())
		if err != nil {
			return err
		}
		host = discovered.Host
	}

	bridge, err := hue.Connect(ctx, host, s.cfg.Hue.Token, s.cfg.Hue.Timeout.Duration())
	if err != nil {
		return err
	}
	s.Bridge = bridge

	coord, err := NewCoordinator(s.cfg, bridge, s.Store, s.Ledger, s.Notifier, s.Bus)
	if err != nil {
		return err
	}
	s.Coordinator = coord

	s.Refresh = NewRefreshService(coord, s.Bus, s.cfg.RefreshInterval.Duration())

	s.registerHandlers(ctx)

	if s.Lua != nil {
		if err := s.Lua.LoadScript(s.cfg.Script); err != nil {
			return err
		}
		go s.Lua.Run(ctx)
	}

	s.Refresh.Start(ctx)

	if s.cfg.HTTP.Enabled {
		s.API = httpapi.NewServer(s.cfg.HTTP.Host, s.cfg.HTTP.Port, coord)
		go func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(err)
			}
		}()
	}

	return nil
}

// registerHandlers wires the event bus: phase events feed the ledger and
// retained MQTT topics, estimates fan out to MQTT and Lua, completed
// calibrations and restorations trigger an immediate estimate refresh.
func (s *Services) registerHandlers(ctx context.Context) {
	s.Bus.Subscribe(eventbus.EventTypePhase, s.Coordinator.recordPhase)

	s.Bus.Subscribe(eventbus.EventTypeEstimate, func(event eventbus.Event) {
		if event.Room == "" {
			return
		}
		s.Notifier.PublishEstimate(event.Room, event.Lux)
		if s.Lua != nil {
			s.Lua.OnEstimate(ctx, event.Room, event.Lux)
		}
	})

	s.Bus.Subscribe(eventbus.EventTypeCalibrated, func(event eventbus.Event) {
		if event.Room == "" {
			return
		}
		if s.Lua != nil {
			if p, err := s.Coordinator.Profile(event.Room); err == nil && p != nil {
				s.Lua.OnCalibrated(ctx, event.Room, p)
			}
		}
		s.Refresh.Kick()
	})

	s.Bus.Subscribe(eventbus.EventTypeLightState, func(event eventbus.Event) {
		s.Refresh.Kick()
	})
}

// Stop gracefully stops all services
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources
func (s *Services) Close() {
	if s.Refresh != nil {
		// The loop exits on context cancellation; wait so no estimate is
		// published to a closing bus
		s.Refresh.Wait()
	}
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Bus != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(shutdownCtx)
		cancel()
	}
	if s.Notifier != nil {
		s.Notifier.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
