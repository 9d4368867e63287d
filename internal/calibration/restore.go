package calibration

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/device"
)

// captureInitialStates records every light's state before calibration
// touches it. A light whose state cannot be read is skipped with a warning;
// it simply will not be restored.
func (c *Calibrator) captureInitialStates(ctx context.Context, r *run) {
	for _, id := range r.lights {
		st, err := c.dev.GetLightState(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("light", id).Msg("Could not capture initial state, light will not be restored")
			continue
		}
		r.initialStates[id] = st
	}
	log.Info().
		Str("room", c.room).
		Int("captured", len(r.initialStates)).
		Int("lights", len(r.lights)).
		Msg("Captured initial light states")
}

// restoreCommand rebuilds the command that reproduces a captured state.
// When several color representations were captured, the most specific one
// wins: color temperature, then RGB, then hue/saturation, then xy.
func restoreCommand(st device.LightState) device.LightCommand {
	cmd := device.LightCommand{On: st.On}
	if !st.On {
		return cmd
	}

	cmd.Brightness = &st.Brightness
	switch {
	case st.ColorTemp != nil:
		cmd.ColorTemp = st.ColorTemp
	case len(st.RGB) == 3:
		cmd.RGB = st.RGB
	case st.Hue != nil && st.Sat != nil:
		cmd.Hue = st.Hue
		cmd.Sat = st.Sat
	case len(st.XY) == 2:
		cmd.XY = st.XY
	}
	return cmd
}

// restoreInitialStates puts every captured light back the way it was.
// Failures are collected and logged; restoration never raises.
func (c *Calibrator) restoreInitialStates(ctx context.Context, r *run) {
	if len(r.initialStates) == 0 {
		return
	}

	var failed []string
	for id, st := range r.initialStates {
		if err := c.dev.SetLight(ctx, id, restoreCommand(st)); err != nil {
			log.Warn().Err(err).Str("light", id).Msg("Failed to restore light state")
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		log.Warn().
			Str("room", c.room).
			Strs("lights", failed).
			Msg("Some lights could not be restored")
		return
	}
	log.Info().
		Str("room", c.room).
		Int("restored", len(r.initialStates)).
		Msg("Restored initial light states")
}
