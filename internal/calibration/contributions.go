package calibration

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/device"
	"github.com/dokzlo13/luxd/internal/profile"
)

// testContributions measures each light in isolation: all lights off, read a
// fresh baseline, switch one light to full white, read again. The delta is
// the light's maximum contribution. Lights below the significance threshold
// are discarded; unresponsive lights are excluded and testing continues.
func (c *Calibrator) testContributions(ctx context.Context, r *run) error {
	candidates := append([]string(nil), r.lights...)

	for _, id := range candidates {
		if err := c.checkStop(r); err != nil {
			return err
		}
		if !r.inWorkingSet(id) {
			continue
		}

		if err := c.setAllLights(ctx, r, false); err != nil {
			return err
		}
		if !r.inWorkingSet(id) {
			continue
		}
		if err := c.settle(ctx, r); err != nil {
			return err
		}

		base, err := c.dev.ReadSensor(ctx, c.sensor)
		if err != nil {
			return fmt.Errorf("baseline for light %s: %w", id, err)
		}

		if err := c.setLightVerified(ctx, id, device.FullWhite()); err != nil {
			if errors.Is(err, device.ErrUnresponsive) {
				log.Warn().Str("light", id).Msg("Light unresponsive during contribution test, excluding")
				r.exclude(id)
				continue
			}
			return err
		}
		if err := c.settle(ctx, r); err != nil {
			return err
		}

		with, err := c.dev.ReadSensor(ctx, c.sensor)
		if err != nil {
			return fmt.Errorf("reading contribution of light %s: %w", id, err)
		}

		contribution := with - base
		if contribution < c.params.ContributionThreshold {
			log.Info().
				Str("light", id).
				Float64("contribution", contribution).
				Float64("threshold", c.params.ContributionThreshold).
				Msg("Light contribution below threshold, skipping")
			continue
		}

		r.contributions[id] = profile.Contribution{
			MaxContribution: contribution,
			BaseLux:         base,
			WithLightLux:    with,
			LinearValidated: true,
		}
		r.contribOrder = append(r.contribOrder, id)
		log.Info().
			Str("light", id).
			Float64("base_lux", base).
			Float64("with_light_lux", with).
			Float64("contribution", contribution).
			Msg("Measured light contribution")
	}

	if len(r.contributions) == 0 {
		return fmt.Errorf("%w (threshold %.1f lux)", ErrNoSignificantContribution, c.params.ContributionThreshold)
	}
	return nil
}
