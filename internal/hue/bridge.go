// Package hue adapts a Philips Hue bridge to the device.Controller port.
// Sensor IDs and light IDs are the bridge's numeric resource IDs; sensors may
// also be referenced by name.
package hue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/device"
)

// Bridge implements device.Controller against a Hue bridge
type Bridge struct {
	bridge  *huego.Bridge
	timeout time.Duration // per-request deadline for bridge API calls

	// Sensor name -> numeric ID, resolved lazily
	mu        sync.Mutex
	sensorIDs map[string]int
}

// Connect creates a Bridge and verifies the connection by fetching the
// bridge configuration. timeout bounds every bridge API request; zero
// disables the bound.
func Connect(ctx context.Context, host, user string, timeout time.Duration) (*Bridge, error) {
	b := &Bridge{
		bridge:    huego.New(host, user),
		timeout:   timeout,
		sensorIDs: make(map[string]int),
	}

	opCtx, cancel := b.opCtx(ctx)
	defer cancel()
	cfg, err := b.bridge.GetConfigContext(opCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge at %s: %w", host, err)
	}
	log.Info().
		Str("host", host).
		Str("name", cfg.Name).
		Str("api_version", cfg.APIVersion).
		Msg("Connected to Hue bridge")

	return b, nil
}

// opCtx derives the per-request context. huego has no HTTP client hook, so
// the configured timeout is applied as a deadline on every call.
func (b *Bridge) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// ReadSensor reads the current illuminance in lux from a ZLLLightLevel
// sensor, referenced by numeric ID or by name.
func (b *Bridge) ReadSensor(ctx context.Context, sensorID string) (float64, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	sensor, err := b.findSensor(ctx, sensorID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", device.ErrSensorUnavailable, err)
	}

	if reachable, ok := sensor.Config["reachable"].(bool); ok && !reachable {
		return 0, fmt.Errorf("%w: sensor %s not reachable", device.ErrSensorUnavailable, sensorID)
	}

	raw, ok := sensor.State["lightlevel"]
	if !ok {
		return 0, fmt.Errorf("%w: sensor %s reports no lightlevel", device.ErrInvalidReading, sensorID)
	}
	level, ok := raw.(float64)
	if !ok || level < 0 {
		return 0, fmt.Errorf("%w: sensor %s lightlevel %v", device.ErrInvalidReading, sensorID, raw)
	}

	lux := lightLevelToLux(level)
	log.Debug().Str("sensor", sensorID).Float64("lightlevel", level).Float64("lux", lux).Msg("Sensor read")
	return lux, nil
}

// SetLight applies a command to one light
func (b *Bridge) SetLight(ctx context.Context, lightID string, cmd device.LightCommand) error {
	id, err := strconv.Atoi(lightID)
	if err != nil {
		return fmt.Errorf("%w: %s", device.ErrLightNotFound, lightID)
	}

	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	light, err := b.bridge.GetLightContext(ctx, id)
	if err != nil {
		return fmt.Errorf("light %s: %w", lightID, err)
	}

	state := huego.State{On: cmd.On}
	if cmd.On {
		if cmd.Brightness != nil {
			state.Bri = toHueBrightness(*cmd.Brightness)
		}
		switch {
		case cmd.ColorTemp != nil:
			state.Ct = *cmd.ColorTemp
		case len(cmd.RGB) == 3:
			xy, bri := rgbToXY(cmd.RGB[0], cmd.RGB[1], cmd.RGB[2])
			state.Xy = xy
			if cmd.Brightness == nil {
				state.Bri = bri
			}
		case cmd.Hue != nil && cmd.Sat != nil:
			state.Hue = *cmd.Hue
			state.Sat = *cmd.Sat
		case len(cmd.XY) == 2:
			state.Xy = cmd.XY
		}
	}

	return light.SetStateContext(ctx, state)
}

// GetLightState returns the current state of one light
func (b *Bridge) GetLightState(ctx context.Context, lightID string) (device.LightState, error) {
	id, err := strconv.Atoi(lightID)
	if err != nil {
		return device.LightState{}, fmt.Errorf("%w: %s", device.ErrLightNotFound, lightID)
	}

	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	light, err := b.bridge.GetLightContext(ctx, id)
	if err != nil {
		return device.LightState{}, fmt.Errorf("light %s: %w", lightID, err)
	}
	if light.State == nil {
		return device.LightState{}, fmt.Errorf("%w: light %s has no state", device.ErrLightNotFound, lightID)
	}

	st := device.LightState{
		On:         light.State.On,
		Reachable:  light.State.Reachable,
		Brightness: fromHueBrightness(light.State.Bri),
	}

	// Only the active color mode is trustworthy for later restoration
	switch light.State.ColorMode {
	case "ct":
		ct := light.State.Ct
		st.ColorTemp = &ct
	case "hs":
		hue := light.State.Hue
		sat := light.State.Sat
		st.Hue = &hue
		st.Sat = &sat
	case "xy":
		st.XY = append([]float32(nil), light.State.Xy...)
	}

	return st, nil
}

// ListLights returns the light IDs of the bridge group whose name matches
// the room.
func (b *Bridge) ListLights(ctx context.Context, room string) ([]string, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	groups, err := b.bridge.GetGroupsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	for _, g := range groups {
		if strings.EqualFold(g.Name, room) {
			return append([]string(nil), g.Lights...), nil
		}
	}
	return nil, fmt.Errorf("no bridge group named %q", room)
}

// findSensor resolves a sensor by numeric ID or name
func (b *Bridge) findSensor(ctx context.Context, sensorID string) (*huego.Sensor, error) {
	if id, err := strconv.Atoi(sensorID); err == nil {
		return b.bridge.GetSensorContext(ctx, id)
	}

	b.mu.Lock()
	id, cached := b.sensorIDs[sensorID]
	b.mu.Unlock()
	if cached {
		return b.bridge.GetSensorContext(ctx, id)
	}

	sensors, err := b.bridge.GetSensorsContext(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sensors {
		s := &sensors[i]
		if s.Type == "ZLLLightLevel" && strings.EqualFold(s.Name, sensorID) {
			b.mu.Lock()
			b.sensorIDs[sensorID] = s.ID
			b.mu.Unlock()
			return s, nil
		}
	}
	return nil, fmt.Errorf("no light level sensor named %q", sensorID)
}
