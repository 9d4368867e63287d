package calibration

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/device"
)

const (
	settlePrimeDelay      = 2 * time.Second
	settleSampleInterval  = time.Second
	maxSettleSamples      = 10
	stabilityWindow       = 3
	stabilityToleranceLux = 2.0
	settleFloorSeconds    = 2
	settleFallbackSeconds = 5
)

// estimateSettleTime measures how long the sensor takes to stabilize after a
// light change. A representative light is flipped from all-off to full white
// and the sensor sampled at 1 Hz until the last few readings agree; the
// elapsed sample count, padded by the timing buffer, becomes the settle time
// used by every later phase.
func (c *Calibrator) estimateSettleTime(ctx context.Context, r *run) error {
	rep := r.lights[0]

	if err := c.setAllLights(ctx, r, false); err != nil {
		return err
	}
	if !r.inWorkingSet(rep) {
		if len(r.lights) == 0 {
			return fmt.Errorf("%w: representative light lost during timing calibration", ErrNoUsableLights)
		}
		rep = r.lights[0]
	}
	if err := c.sleep(ctx, settlePrimeDelay); err != nil {
		return err
	}

	baseline, err := c.dev.ReadSensor(ctx, c.sensor)
	if err != nil {
		return fmt.Errorf("reading timing baseline: %w", err)
	}

	if err := c.setLightVerified(ctx, rep, device.FullWhite()); err != nil {
		log.Warn().Err(err).Str("light", rep).Msg("Representative light unresponsive, using fallback settle time")
		r.settleSeconds = settleFallbackSeconds
		return nil
	}

	samples := make([]float64, 0, maxSettleSamples)
	stableAt := 0
	for i := 1; i <= maxSettleSamples; i++ {
		if err := c.sleep(ctx, settleSampleInterval); err != nil {
			return err
		}
		lux, err := c.dev.ReadSensor(ctx, c.sensor)
		if err != nil {
			return fmt.Errorf("sampling settle time: %w", err)
		}
		samples = append(samples, lux)

		if len(samples) >= stabilityWindow && stableWindow(samples[len(samples)-stabilityWindow:]) {
			stableAt = i
			break
		}
	}

	if stableAt == 0 {
		log.Warn().
			Str("room", c.room).
			Floats64("samples", samples).
			Msg("Sensor never stabilized within sample ceiling, using fallback settle time")
		r.settleSeconds = settleFallbackSeconds
	} else {
		secs := int(math.Ceil(float64(stableAt) * c.params.TimingBuffer))
		if secs < settleFloorSeconds {
			secs = settleFloorSeconds
		}
		r.settleSeconds = secs
	}

	log.Info().
		Str("room", c.room).
		Str("light", rep).
		Float64("baseline_lux", baseline).
		Int("settle_seconds", r.settleSeconds).
		Msg("Calibrated settle time")
	return nil
}

// stableWindow reports whether the readings agree within the tolerance
func stableWindow(window []float64) bool {
	lo, hi := window[0], window[0]
	for _, v := range window[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi-lo <= stabilityToleranceLux
}
