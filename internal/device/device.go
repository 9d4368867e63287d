// Package device defines the control port the calibration core drives.
// Implementations talk to a real bridge (internal/hue) or to fakes in tests.
package device

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by Controller implementations.
var (
	ErrSensorUnavailable = errors.New("sensor unavailable")
	ErrInvalidReading    = errors.New("invalid sensor reading")
	ErrLightNotFound     = errors.New("light not found")
	ErrUnresponsive      = errors.New("light did not reach commanded state")
)

// FullBrightness is the top of the port's brightness scale.
const FullBrightness uint8 = 255

// LightState is a snapshot of a single light as reported by the device layer.
// Color fields are nil when the light does not report that representation.
type LightState struct {
	On         bool
	Reachable  bool
	Brightness uint8 // 0..255

	// Color attributes, at most a few populated depending on color mode
	ColorTemp *uint16    // mirek
	RGB       []uint8    // [r, g, b]
	Hue       *uint16    // 0..65535
	Sat       *uint8     // 0..254
	XY        []float32  // CIE [x, y]
}

// LightCommand describes a desired light state. Nil fields are left untouched
// by the device layer. Commands are best-effort: callers that need certainty
// must verify the resulting state with GetLightState.
type LightCommand struct {
	On         bool
	Brightness *uint8  // 0..255, only meaningful when On
	ColorTemp  *uint16 // mirek
	RGB        []uint8
	Hue        *uint16
	Sat        *uint8
	XY         []float32
}

// TurnOff is the command that switches a light off.
func TurnOff() LightCommand {
	return LightCommand{On: false}
}

// FullWhite is the command used during calibration: full brightness,
// neutral white (4000 K, 250 mirek).
func FullWhite() LightCommand {
	bri := FullBrightness
	ct := uint16(250)
	return LightCommand{On: true, Brightness: &bri, ColorTemp: &ct}
}

// Controller abstracts "set light, read sensor, enumerate lights".
// Pure interface; no logic.
type Controller interface {
	// ReadSensor returns the current illuminance in lux.
	// Fails with ErrSensorUnavailable or ErrInvalidReading.
	ReadSensor(ctx context.Context, sensorID string) (float64, error)

	// SetLight applies a command to one light. Best-effort.
	SetLight(ctx context.Context, lightID string, cmd LightCommand) error

	// GetLightState returns the current state of one light.
	// Fails with ErrLightNotFound for unknown lights; an unreachable light
	// is reported with Reachable=false, not an error.
	GetLightState(ctx context.Context, lightID string) (LightState, error)

	// ListLights returns the light IDs belonging to the named room.
	ListLights(ctx context.Context, room string) ([]string, error)
}
