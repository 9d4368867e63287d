// Package calibration implements the staged calibration protocol and the
// runtime illuminance estimation model.
//
// A Calibrator owns at most one active run. The run executes on a single
// goroutine, yielding at every device command and settle wait; stop requests
// are honored at phase boundaries and the captured light states are restored
// on every exit path.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/device"
	"github.com/dokzlo13/luxd/internal/eventbus"
	"github.com/dokzlo13/luxd/internal/profile"
)

// Saver persists a completed profile. Failures are non-fatal.
type Saver interface {
	Save(p *profile.Profile) error
}

// Notifier delivers fire-and-forget user notifications
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// NopNotifier discards notifications
type NopNotifier struct{}

// Notify implements Notifier
func (NopNotifier) Notify(ctx context.Context, title, message string) {}

// Params holds the protocol tunables
type Params struct {
	ContributionThreshold float64       // Minimum lux delta for a light to be retained
	PairTolerancePercent  float64       // Additivity error tolerance
	TimingBuffer          float64       // Settle time safety multiplier
	CommandRetries        int           // Read-back verification retries per command
	VerifyDelay           time.Duration // Wait before read-back verification
}

// DefaultParams returns the values the protocol was validated with
func DefaultParams() Params {
	return Params{
		ContributionThreshold: 10.0,
		PairTolerancePercent:  30.0,
		TimingBuffer:          1.25,
		CommandRetries:        2,
		VerifyDelay:           2 * time.Second,
	}
}

// Calibrator is the calibration state machine for a single room
type Calibrator struct {
	room   string
	sensor string
	dev    device.Controller
	saver  Saver
	notify Notifier
	bus    *eventbus.Bus
	params Params

	// Single point of mutual exclusion for runs
	active atomic.Bool

	mu      sync.RWMutex
	phase   Phase
	lastErr string
	run     *run
	profile *profile.Profile // last completed profile, authoritative in-memory

	// Replaceable in tests to avoid real settle waits
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Calibrator for one room. saver, notifier and bus may be nil
// for callers that do not need persistence, notifications or events.
func New(room, sensor string, dev device.Controller, saver Saver, notifier Notifier, bus *eventbus.Bus, params Params) *Calibrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Calibrator{
		room:   room,
		sensor: sensor,
		dev:    dev,
		saver:  saver,
		notify: notifier,
		bus:    bus,
		params: params,
		phase:  PhaseIdle,
		sleep:  sleepCtx,
	}
}

// Room returns the room this calibrator is bound to
func (c *Calibrator) Room() string {
	return c.room
}

// Profile returns the current calibration profile, or nil if the room has
// never been calibrated this session and none was loaded.
func (c *Calibrator) Profile() *profile.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

// SetProfile installs a previously persisted profile, typically at startup
func (c *Calibrator) SetProfile(p *profile.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = p
}

// Status returns the externally observable phase and activity
func (c *Calibrator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Phase:  c.phase,
		Label:  c.phase.String(),
		Active: c.active.Load(),
		Err:    c.lastErr,
	}
}

// Start begins a calibration run over the given lights. It fails with
// ErrAlreadyRunning if a run is active and ErrNoUsableLights for an empty
// light list; otherwise the phase sequence proceeds on its own goroutine.
func (c *Calibrator) Start(ctx context.Context, lights []string) error {
	if !c.active.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if len(lights) == 0 {
		c.active.Store(false)
		return fmt.Errorf("%w: no lights configured for room %q", ErrNoUsableLights, c.room)
	}

	r := newRun(uuid.NewString(), lights)

	c.mu.Lock()
	c.run = r
	c.phase = PhaseIdle
	c.lastErr = ""
	c.mu.Unlock()

	minutes := estimateDurationMinutes(len(lights))
	log.Info().
		Str("room", c.room).
		Str("run_id", r.id).
		Str("sensor", c.sensor).
		Int("lights", len(lights)).
		Int("estimated_minutes", minutes).
		Msg("Calibration starting")

	c.notify.Notify(ctx, "Calibration Starting",
		fmt.Sprintf("Calibrating %s: approximately %d minutes. Lights will turn on and off automatically.", c.room, minutes))

	c.publish(eventbus.Event{
		Type:  eventbus.EventTypePhase,
		Room:  c.room,
		RunID: r.id,
		Phase: PhaseIdle.String(),
	})

	// The run outlives the caller: an HTTP start handler returns (and its
	// request context is cancelled) long before the phases finish.
	go c.execute(context.WithoutCancel(ctx), r)
	return nil
}

// Stop requests cooperative cancellation of the active run. The in-flight
// wait completes; remaining phases are skipped and restoration still runs.
func (c *Calibrator) Stop() error {
	c.mu.RLock()
	r := c.run
	c.mu.RUnlock()

	if r == nil || !c.active.Load() {
		return ErrNotRunning
	}

	log.Info().Str("room", c.room).Str("run_id", r.id).Msg("Stop requested")
	r.requestStop()
	return nil
}

// Estimate computes the current estimated illuminance from live light states
// and the calibration profile. The second return is false when the room has
// no usable calibration.
func (c *Calibrator) Estimate(ctx context.Context) (float64, bool) {
	p := c.Profile()
	if p == nil || len(p.Contributions) == 0 {
		return 0, false
	}

	states := make(map[string]device.LightState, len(p.Contributions))
	for id := range p.Contributions {
		st, err := c.dev.GetLightState(ctx, id)
		if err != nil {
			// Unknown state contributes zero
			continue
		}
		states[id] = st
	}

	return EstimateLux(states, p.Contributions), true
}

// execute runs the phase sequence and always restores captured light state,
// whatever the outcome.
func (c *Calibrator) execute(ctx context.Context, r *run) {
	defer func() {
		c.mu.Lock()
		c.run = nil
		c.mu.Unlock()
		c.active.Store(false)
	}()

	err := c.runPhases(ctx, r)

	switch {
	case err == nil:
		c.setPhase(r, PhaseCompleted)
		c.reportSuccess(ctx, r)
	case errors.Is(err, errStopped):
		c.setPhase(r, PhaseStopped)
		log.Info().Str("room", c.room).Str("run_id", r.id).Msg("Calibration stopped")
		c.notify.Notify(ctx, "Calibration Stopped",
			fmt.Sprintf("Calibration of %s was stopped by user.", c.room))
	default:
		c.fail(r, err)
		c.notify.Notify(ctx, "Calibration Failed",
			fmt.Sprintf("Calibration of %s failed: %v", c.room, err))
	}

	// Unconditional restoration, on a context that cannot be cancelled so
	// lights come back even when the run died to cancellation. Per-light
	// failures are logged, never raised.
	c.restoreInitialStates(context.WithoutCancel(ctx), r)

	c.publish(eventbus.Event{
		Type:   eventbus.EventTypeLightState,
		Room:   c.room,
		RunID:  r.id,
		Reason: "restored",
	})
}

// runPhases drives the fixed phase order. Each phase publishes its phase
// before doing any work so concurrent observers never see a stale step.
func (c *Calibrator) runPhases(ctx context.Context, r *run) error {
	c.setPhase(r, PhaseCapturingInitialState)
	c.captureInitialStates(ctx, r)
	if err := c.checkStop(r); err != nil {
		return err
	}

	c.setPhase(r, PhaseValidatingSensor)
	lux, err := c.dev.ReadSensor(ctx, c.sensor)
	if err != nil {
		return fmt.Errorf("sensor %s: %w", c.sensor, err)
	}
	log.Info().Str("room", c.room).Float64("lux", lux).Msg("Sensor validated")
	if err := c.checkStop(r); err != nil {
		return err
	}

	c.setPhase(r, PhaseValidatingLights)
	if err := c.validateLights(ctx, r); err != nil {
		return err
	}
	if err := c.checkStop(r); err != nil {
		return err
	}

	c.setPhase(r, PhaseCalibratingTiming)
	if err := c.estimateSettleTime(ctx, r); err != nil {
		return err
	}
	if err := c.checkStop(r); err != nil {
		return err
	}

	c.setPhase(r, PhaseTestingMinMax)
	if err := c.testMinMax(ctx, r); err != nil {
		return err
	}
	if err := c.checkStop(r); err != nil {
		return err
	}

	c.setPhase(r, PhaseTestingContributions)
	if err := c.testContributions(ctx, r); err != nil {
		return err
	}
	if err := c.checkStop(r); err != nil {
		return err
	}

	c.setPhase(r, PhaseValidatingPairs)
	if err := c.validatePairs(ctx, r); err != nil {
		return err
	}
	if err := c.checkStop(r); err != nil {
		return err
	}

	c.setPhase(r, PhaseSavingData)
	p := r.buildProfile(c.room, c.sensor)

	// The in-memory profile is authoritative for the session even when the
	// save fails; recalibration is cheap to retry.
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()

	if c.saver != nil {
		if err := c.saver.Save(p); err != nil {
			log.Error().Err(err).Str("room", c.room).Msg("Failed to persist calibration profile, continuing with in-memory data")
		}
	}

	return nil
}

// validateLights drops lights that do not resolve to a live, reachable
// entity. Only an empty resulting working set is fatal.
func (c *Calibrator) validateLights(ctx context.Context, r *run) error {
	working := make([]string, 0, len(r.lights))
	var failed []string

	for _, id := range r.lights {
		st, err := c.dev.GetLightState(ctx, id)
		if err != nil {
			failed = append(failed, id)
			continue
		}
		if !st.Reachable {
			failed = append(failed, id)
			continue
		}
		working = append(working, id)
	}

	if len(failed) > 0 {
		log.Warn().Str("room", c.room).Strs("lights", failed).Msg("Some lights failed validation")
	}
	if len(working) == 0 {
		return fmt.Errorf("%w: all %d candidate lights failed validation", ErrNoUsableLights, len(r.lights))
	}

	r.lights = working
	log.Info().Str("room", c.room).Int("lights", len(working)).Msg("Validated working lights")
	return nil
}

// testMinMax measures the illuminance range: all lights off, then all on
func (c *Calibrator) testMinMax(ctx context.Context, r *run) error {
	if err := c.setAllLights(ctx, r, false); err != nil {
		return err
	}
	if err := c.settle(ctx, r); err != nil {
		return err
	}
	minLux, err := c.dev.ReadSensor(ctx, c.sensor)
	if err != nil {
		return fmt.Errorf("reading min lux: %w", err)
	}

	if err := c.setAllLights(ctx, r, true); err != nil {
		return err
	}
	if err := c.settle(ctx, r); err != nil {
		return err
	}
	maxLux, err := c.dev.ReadSensor(ctx, c.sensor)
	if err != nil {
		return fmt.Errorf("reading max lux: %w", err)
	}

	if maxLux <= minLux {
		return fmt.Errorf("%w: min=%.1f max=%.1f", ErrInvalidRange, minLux, maxLux)
	}

	r.minLux = minLux
	r.maxLux = maxLux
	log.Info().
		Str("room", c.room).
		Float64("min_lux", minLux).
		Float64("max_lux", maxLux).
		Msg("Measured illuminance range")
	return nil
}

// setAllLights commands every working light on (full white) or off,
// dispatching concurrently with per-light failure isolation, then verifies
// the resulting states with bounded retries. Lights that never reach the
// commanded state are excluded from the working set.
func (c *Calibrator) setAllLights(ctx context.Context, r *run, on bool) error {
	cmd := device.TurnOff()
	if on {
		cmd = device.FullWhite()
	}

	pending := append([]string(nil), r.lights...)
	for attempt := 0; attempt <= c.params.CommandRetries; attempt++ {
		var wg sync.WaitGroup
		for _, id := range pending {
			wg.Add(1)
			go func(lightID string) {
				defer wg.Done()
				if err := c.dev.SetLight(ctx, lightID, cmd); err != nil {
					log.Warn().Err(err).Str("light", lightID).Msg("Light command failed")
				}
			}(id)
		}
		wg.Wait()

		if err := c.sleep(ctx, c.params.VerifyDelay); err != nil {
			return err
		}

		pending = c.unverified(ctx, pending, on)
		if len(pending) == 0 {
			return nil
		}
	}

	log.Warn().
		Str("room", c.room).
		Strs("lights", pending).
		Bool("on", on).
		Msg("Excluding non-responsive lights from calibration")
	for _, id := range pending {
		r.exclude(id)
	}

	if len(r.lights) == 0 {
		return fmt.Errorf("%w: all lights failed to respond", ErrNoUsableLights)
	}
	return nil
}

// unverified returns the subset of lights whose read-back state does not
// match the expected on/off state.
func (c *Calibrator) unverified(ctx context.Context, lights []string, wantOn bool) []string {
	var failed []string
	for _, id := range lights {
		st, err := c.dev.GetLightState(ctx, id)
		if err != nil || !st.Reachable || st.On != wantOn {
			failed = append(failed, id)
		}
	}
	return failed
}

// setLightVerified commands one light and verifies the resulting on/off
// state with bounded retries. Returns device.ErrUnresponsive when the light
// never reaches the commanded state.
func (c *Calibrator) setLightVerified(ctx context.Context, lightID string, cmd device.LightCommand) error {
	for attempt := 0; attempt <= c.params.CommandRetries; attempt++ {
		if err := c.dev.SetLight(ctx, lightID, cmd); err != nil {
			log.Warn().Err(err).Str("light", lightID).Msg("Light command failed")
		}
		if err := c.sleep(ctx, c.params.VerifyDelay); err != nil {
			return err
		}
		st, err := c.dev.GetLightState(ctx, lightID)
		if err == nil && st.Reachable && st.On == cmd.On {
			return nil
		}
	}
	return fmt.Errorf("light %s: %w", lightID, device.ErrUnresponsive)
}

// settle waits the calibrated settle time
func (c *Calibrator) settle(ctx context.Context, r *run) error {
	return c.sleep(ctx, time.Duration(r.settleSeconds)*time.Second)
}

// checkStop translates a pending stop request into errStopped.
// Called at phase boundaries; in-flight waits are never preempted.
func (c *Calibrator) checkStop(r *run) error {
	if r.stopRequested() {
		return errStopped
	}
	return nil
}

// setPhase records and publishes the phase about to execute
func (c *Calibrator) setPhase(r *run, p Phase) {
	c.mu.Lock()
	c.phase = p
	if p != PhaseFailed {
		c.lastErr = ""
	}
	c.mu.Unlock()

	log.Debug().Str("room", c.room).Str("phase", p.String()).Msg("Calibration phase")
	c.publish(eventbus.Event{
		Type:  eventbus.EventTypePhase,
		Room:  c.room,
		RunID: r.id,
		Phase: p.String(),
	})
}

// fail records the failure detail alongside the failed phase
func (c *Calibrator) fail(r *run, err error) {
	c.mu.Lock()
	c.phase = PhaseFailed
	c.lastErr = err.Error()
	c.mu.Unlock()

	log.Error().Err(err).Str("room", c.room).Str("run_id", r.id).Msg("Calibration failed")
	c.publish(eventbus.Event{
		Type:  eventbus.EventTypePhase,
		Room:  c.room,
		RunID: r.id,
		Phase: PhaseFailed.String(),
		Err:   err.Error(),
	})
}

// reportSuccess logs the run summary and notifies the user
func (c *Calibrator) reportSuccess(ctx context.Context, r *run) {
	contributing := len(r.contributions)
	tested := len(r.lights)
	var total float64
	for _, contrib := range r.contributions {
		total += contrib.MaxContribution
	}

	log.Info().
		Str("room", c.room).
		Str("run_id", r.id).
		Int("contributing", contributing).
		Int("tested", tested).
		Float64("total_lux", total).
		Float64("min_lux", r.minLux).
		Float64("max_lux", r.maxLux).
		Msg("Calibration completed")

	if len(r.excluded) > 0 {
		log.Warn().
			Str("room", c.room).
			Strs("excluded", r.excluded).
			Msg("Excluded non-responsive lights")
	}

	msg := fmt.Sprintf("%s calibration finished successfully. Found %d useful lights (of %d tested). Total contribution: %.0f lux.",
		c.room, contributing, tested, total)
	if len(r.excluded) > 0 {
		msg += fmt.Sprintf(" Excluded %d non-responsive lights.", len(r.excluded))
	}
	c.notify.Notify(ctx, "Calibration Complete", msg)

	c.publish(eventbus.Event{
		Type:  eventbus.EventTypeCalibrated,
		Room:  c.room,
		RunID: r.id,
		Summary: &eventbus.RunSummary{
			Contributing: contributing,
			Tested:       tested,
			Excluded:     len(r.excluded),
			TotalLux:     total,
			MinLux:       r.minLux,
			MaxLux:       r.maxLux,
		},
	})
}

func (c *Calibrator) publish(event eventbus.Event) {
	if c.bus != nil {
		c.bus.Publish(event)
	}
}

// estimateDurationMinutes predicts the run duration for user notifications
func estimateDurationMinutes(lightCount int) int {
	const timePerLight = 30 // seconds
	const overhead = 60     // seconds
	total := lightCount*timePerLight + overhead
	minutes := int(math.Round(float64(total) / 60.0))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// sleepCtx is the default sleep function, interruptible by context
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
