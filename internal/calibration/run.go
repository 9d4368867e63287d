package calibration

import (
	"sync"
	"time"

	"github.com/dokzlo13/luxd/internal/device"
	"github.com/dokzlo13/luxd/internal/profile"
)

// run holds the transient state of one calibration attempt. It is created by
// Start, mutated only by the calibration goroutine, and discarded when the
// run terminates regardless of outcome.
type run struct {
	id            string
	lights        []string // working set, shrinks as lights are excluded
	initialStates map[string]device.LightState
	excluded      []string
	settleSeconds int
	minLux        float64
	maxLux        float64
	contributions map[string]profile.Contribution
	contribOrder  []string // test order of retained lights
	validations   map[string]profile.PairValidation

	stop     chan struct{}
	stopOnce sync.Once
}

func newRun(id string, lights []string) *run {
	return &run{
		id:            id,
		lights:        append([]string(nil), lights...),
		initialStates: make(map[string]device.LightState),
		contributions: make(map[string]profile.Contribution),
		validations:   make(map[string]profile.PairValidation),
		stop:          make(chan struct{}),
	}
}

// requestStop marks the run for cooperative cancellation. Safe to call
// multiple times and from any goroutine.
func (r *run) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) stopRequested() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// exclude removes a light from the working set for the remainder of the run
// and records it. Already-measured contributions for the light are dropped.
func (r *run) exclude(lightID string) {
	for _, ex := range r.excluded {
		if ex == lightID {
			return
		}
	}
	r.excluded = append(r.excluded, lightID)

	kept := r.lights[:0]
	for _, id := range r.lights {
		if id != lightID {
			kept = append(kept, id)
		}
	}
	r.lights = kept

	delete(r.contributions, lightID)
}

// inWorkingSet reports whether the light is still under test
func (r *run) inWorkingSet(lightID string) bool {
	for _, id := range r.lights {
		if id == lightID {
			return true
		}
	}
	return false
}

// buildProfile assembles the Room Calibration Profile from the run results
func (r *run) buildProfile(room, sensor string) *profile.Profile {
	return &profile.Profile{
		Room:              room,
		Sensor:            sensor,
		MinLux:            r.minLux,
		MaxLux:            r.maxLux,
		Contributions:     r.contributions,
		ValidationResults: r.validations,
		SettleTimeSeconds: r.settleSeconds,
		ExcludedLights:    append([]string(nil), r.excluded...),
		Timestamp:         time.Now().UTC(),
	}
}
