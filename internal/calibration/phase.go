package calibration

// Phase identifies a step of the calibration protocol. Phases advance in a
// fixed order; Stopped and Failed are reachable from any non-terminal phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCapturingInitialState
	PhaseValidatingSensor
	PhaseValidatingLights
	PhaseCalibratingTiming
	PhaseTestingMinMax
	PhaseTestingContributions
	PhaseValidatingPairs
	PhaseSavingData
	PhaseCompleted
	PhaseStopped
	PhaseFailed
)

// String returns the snake_case label for the phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCapturingInitialState:
		return "capturing_initial_state"
	case PhaseValidatingSensor:
		return "validating_sensor"
	case PhaseValidatingLights:
		return "validating_lights"
	case PhaseCalibratingTiming:
		return "calibrating_timing"
	case PhaseTestingMinMax:
		return "testing_min_max"
	case PhaseTestingContributions:
		return "testing_contributions"
	case PhaseValidatingPairs:
		return "validating_pairs"
	case PhaseSavingData:
		return "saving_data"
	case PhaseCompleted:
		return "completed"
	case PhaseStopped:
		return "stopped"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends a run
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseStopped || p == PhaseFailed
}

// Status is the externally observable state of a Calibrator.
// Err carries the failure detail when Phase is PhaseFailed.
type Status struct {
	Phase  Phase  `json:"-"`
	Label  string `json:"phase"`
	Active bool   `json:"is_active"`
	Err    string `json:"error,omitempty"`
}
