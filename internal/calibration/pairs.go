package calibration

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/device"
	"github.com/dokzlo13/luxd/internal/profile"
)

// Pair checks are bounded so the run time stays proportional to the room
// size rather than quadratic in it.
const maxPairLights = 3

// validatePairs spot-checks additivity of the model: for sequential pairs of
// the first few contributing lights in test order, the combined reading
// should match the sum of the individual contributions within tolerance.
// Invalid pairs mark both lights as not linearly validated but never fail
// the run.
func (c *Calibrator) validatePairs(ctx context.Context, r *run) error {
	if len(r.contribOrder) < 2 {
		log.Debug().Str("room", c.room).Msg("Fewer than two contributing lights, skipping pair validation")
		return nil
	}

	subjects := r.contribOrder
	if len(subjects) > maxPairLights {
		subjects = subjects[:maxPairLights]
	}

	for i := 0; i+1 < len(subjects); i++ {
		if err := c.checkStop(r); err != nil {
			return err
		}
		a, b := subjects[i], subjects[i+1]
		if !r.inWorkingSet(a) || !r.inWorkingSet(b) {
			continue
		}

		if err := c.setAllLights(ctx, r, false); err != nil {
			return err
		}
		if err := c.settle(ctx, r); err != nil {
			return err
		}
		base, err := c.dev.ReadSensor(ctx, c.sensor)
		if err != nil {
			return fmt.Errorf("pair baseline %s+%s: %w", a, b, err)
		}

		if err := c.setLightVerified(ctx, a, device.FullWhite()); err != nil {
			log.Warn().Err(err).Str("light", a).Msg("Skipping pair, light unresponsive")
			continue
		}
		if err := c.setLightVerified(ctx, b, device.FullWhite()); err != nil {
			log.Warn().Err(err).Str("light", b).Msg("Skipping pair, light unresponsive")
			continue
		}
		if err := c.settle(ctx, r); err != nil {
			return err
		}

		combined, err := c.dev.ReadSensor(ctx, c.sensor)
		if err != nil {
			return fmt.Errorf("pair reading %s+%s: %w", a, b, err)
		}

		expected := r.contributions[a].MaxContribution + r.contributions[b].MaxContribution
		actual := combined - base

		var errPct float64
		if expected > 0 {
			errPct = math.Abs(actual-expected) / expected * 100.0
		}
		valid := errPct <= c.params.PairTolerancePercent

		r.validations[profile.PairKey(a, b)] = profile.PairValidation{
			Expected:     expected,
			Actual:       actual,
			ErrorPercent: errPct,
			Valid:        valid,
		}

		if valid {
			log.Info().
				Str("pair", profile.PairKey(a, b)).
				Float64("expected", expected).
				Float64("actual", actual).
				Float64("error_percent", errPct).
				Msg("Pair additivity validated")
			continue
		}

		log.Warn().
			Str("pair", profile.PairKey(a, b)).
			Float64("expected", expected).
			Float64("actual", actual).
			Float64("error_percent", errPct).
			Msg("Pair additivity outside tolerance")
		markNotLinear(r, a)
		markNotLinear(r, b)
	}

	return nil
}

func markNotLinear(r *run, lightID string) {
	contrib, ok := r.contributions[lightID]
	if !ok {
		return
	}
	contrib.LinearValidated = false
	r.contributions[lightID] = contrib
}
