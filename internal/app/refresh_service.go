package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/eventbus"
)

// RefreshService periodically recomputes room estimates from live light
// states and publishes them to the event bus. Restoration and completed
// calibrations kick an immediate refresh instead of waiting for the tick.
type RefreshService struct {
	coord    *Coordinator
	bus      *eventbus.Bus
	interval time.Duration

	kick chan struct{}
	wg   sync.WaitGroup

	mu   sync.Mutex
	last map[string]float64
}

// NewRefreshService creates a refresh service
func NewRefreshService(coord *Coordinator, bus *eventbus.Bus, interval time.Duration) *RefreshService {
	return &RefreshService{
		coord:    coord,
		bus:      bus,
		interval: interval,
		kick:     make(chan struct{}, 1),
		last:     make(map[string]float64),
	}
}

// Kick requests an immediate refresh. Coalesces when one is already pending.
func (s *RefreshService) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start launches the refresh loop
func (s *RefreshService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	log.Info().Dur("interval", s.interval).Msg("Estimate refresh service started")
}

// Wait blocks until the refresh loop has exited
func (s *RefreshService) Wait() {
	s.wg.Wait()
}

func (s *RefreshService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		case <-s.kick:
			s.refreshAll(ctx)
		}
	}
}

// refreshAll recomputes the estimate for every calibrated room and publishes
// changed values.
func (s *RefreshService) refreshAll(ctx context.Context) {
	for _, room := range s.coord.Rooms() {
		// Skip rooms mid-calibration; their lights are being driven
		if st, err := s.coord.CalibrationStatus(room); err != nil || st.Active {
			continue
		}

		lux, ok, err := s.coord.Estimate(ctx, room)
		if err != nil || !ok {
			continue
		}

		s.mu.Lock()
		prev, seen := s.last[room]
		s.last[room] = lux
		s.mu.Unlock()
		if seen && prev == lux {
			continue
		}

		log.Debug().Str("room", room).Float64("lux", lux).Msg("Estimate refreshed")
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeEstimate,
			Room: room,
			Lux:  lux,
		})
	}
}
