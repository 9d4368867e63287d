package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/calibration"
	"github.com/dokzlo13/luxd/internal/config"
	"github.com/dokzlo13/luxd/internal/device"
	"github.com/dokzlo13/luxd/internal/eventbus"
	"github.com/dokzlo13/luxd/internal/httpapi"
	"github.com/dokzlo13/luxd/internal/ledger"
	"github.com/dokzlo13/luxd/internal/notify"
	"github.com/dokzlo13/luxd/internal/profile"
)

// Coordinator owns one calibrator per configured room and backs the control
// API. It implements httpapi.Service.
type Coordinator struct {
	dev      device.Controller
	store    *profile.Store
	ledger   *ledger.Ledger
	notifier notify.Publisher

	mu          sync.RWMutex
	calibrators map[string]*calibration.Calibrator
	lights      map[string][]string // configured lights, empty = resolve from bridge
}

// NewCoordinator builds calibrators for every configured room and installs
// any previously persisted profiles.
func NewCoordinator(
	cfg *config.Config,
	dev device.Controller,
	store *profile.Store,
	runLedger *ledger.Ledger,
	notifier notify.Publisher,
	bus *eventbus.Bus,
) (*Coordinator, error) {
	params := calibration.Params{
		ContributionThreshold: cfg.Calibration.ContributionThreshold,
		PairTolerancePercent:  cfg.Calibration.PairTolerancePercent,
		TimingBuffer:          cfg.Calibration.TimingBuffer,
		CommandRetries:        cfg.Calibration.CommandRetries,
		VerifyDelay:           cfg.Calibration.VerifyDelay.Duration(),
	}

	c := &Coordinator{
		dev:         dev,
		store:       store,
		ledger:      runLedger,
		notifier:    notifier,
		calibrators: make(map[string]*calibration.Calibrator, len(cfg.Rooms)),
		lights:      make(map[string][]string, len(cfg.Rooms)),
	}

	stored, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration profiles: %w", err)
	}

	for _, room := range cfg.Rooms {
		cal := calibration.New(room.Name, room.Sensor, dev, store, notifier, bus, params)
		if p, ok := stored[room.Name]; ok {
			cal.SetProfile(p)
			log.Info().
				Str("room", room.Name).
				Int("lights", len(p.Contributions)).
				Time("calibrated_at", p.Timestamp).
				Msg("Loaded calibration profile")
		}
		c.calibrators[room.Name] = cal
		c.lights[room.Name] = room.Lights
	}

	return c, nil
}

// Rooms returns the configured room names, sorted
func (c *Coordinator) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.calibrators))
	for room := range c.calibrators {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// StartCalibration begins a calibration run for a room. Lights come from the
// room configuration, or from the matching bridge group when none are
// configured.
func (c *Coordinator) StartCalibration(ctx context.Context, room string) error {
	cal, err := c.calibrator(room)
	if err != nil {
		return err
	}

	c.mu.RLock()
	lights := c.lights[room]
	c.mu.RUnlock()

	if len(lights) == 0 {
		lights, err = c.dev.ListLights(ctx, room)
		if err != nil {
			return fmt.Errorf("%w: %v", calibration.ErrNoUsableLights, err)
		}
	}

	return cal.Start(ctx, lights)
}

// StopCalibration requests cooperative cancellation of a room's run
func (c *Coordinator) StopCalibration(room string) error {
	cal, err := c.calibrator(room)
	if err != nil {
		return err
	}
	return cal.Stop()
}

// CalibrationStatus returns the room's current phase and activity
func (c *Coordinator) CalibrationStatus(room string) (calibration.Status, error) {
	cal, err := c.calibrator(room)
	if err != nil {
		return calibration.Status{}, err
	}
	return cal.Status(), nil
}

// Estimate computes the room's current estimated illuminance
func (c *Coordinator) Estimate(ctx context.Context, room string) (float64, bool, error) {
	cal, err := c.calibrator(room)
	if err != nil {
		return 0, false, err
	}
	lux, ok := cal.Estimate(ctx)
	return lux, ok, nil
}

// Profile returns the room's calibration profile, nil when uncalibrated
func (c *Coordinator) Profile(room string) (*profile.Profile, error) {
	cal, err := c.calibrator(room)
	if err != nil {
		return nil, err
	}
	return cal.Profile(), nil
}

// History returns the room's most recent calibration run events
func (c *Coordinator) History(room string, limit int) ([]*ledger.Entry, error) {
	if _, err := c.calibrator(room); err != nil {
		return nil, err
	}
	return c.ledger.GetByRoom(room, limit)
}

func (c *Coordinator) calibrator(room string) (*calibration.Calibrator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cal, ok := c.calibrators[room]
	if !ok {
		return nil, fmt.Errorf("%w: %q", httpapi.ErrUnknownRoom, room)
	}
	return cal, nil
}

// recordPhase translates calibration phase events into ledger entries and
// retained MQTT phase topics. Wired to the event bus by Services.
func (c *Coordinator) recordPhase(event eventbus.Event) {
	if event.Room == "" || event.Phase == "" {
		return
	}

	c.notifier.PublishPhase(event.Room, event.Phase)

	var eventType ledger.EventType
	switch event.Phase {
	case calibration.PhaseIdle.String():
		eventType = ledger.EventRunStarted
	case calibration.PhaseCompleted.String():
		eventType = ledger.EventRunCompleted
	case calibration.PhaseStopped.String():
		eventType = ledger.EventRunStopped
	case calibration.PhaseFailed.String():
		eventType = ledger.EventRunFailed
	default:
		return
	}

	payload := map[string]any{"phase": event.Phase}
	if event.Err != "" {
		payload["error"] = event.Err
	}
	if err := c.ledger.Append(eventType, event.RunID, event.Room, payload); err != nil {
		log.Error().Err(err).Str("room", event.Room).Msg("Failed to record calibration event")
	}
}
