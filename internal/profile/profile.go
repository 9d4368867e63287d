// Package profile defines the persisted calibration model for a room.
package profile

import (
	"sort"
	"time"
)

// Contribution records what a single light adds to the room at full output.
type Contribution struct {
	MaxContribution float64 `json:"max_contribution"` // Lux at full brightness, clamped >= 0
	BaseLux         float64 `json:"base_lux"`         // Room lux with this light off
	WithLightLux    float64 `json:"with_light_lux"`   // Room lux with this light on
	LinearValidated bool    `json:"linear_validated"` // Provisional until pair validation contradicts it
}

// PairValidation records an additivity check for one light pair.
type PairValidation struct {
	Expected     float64 `json:"expected"`      // Sum of the two individual contributions
	Actual       float64 `json:"actual"`        // Measured combined minus baseline
	ErrorPercent float64 `json:"error_percent"` // Relative deviation, 0 when Expected is 0
	Valid        bool    `json:"valid"`         // True iff ErrorPercent <= tolerance
}

// Profile is the Room Calibration Profile: everything the estimation model
// needs, produced by one calibration run.
type Profile struct {
	Room              string                    `json:"room"`
	Sensor            string                    `json:"sensor"`
	MinLux            float64                   `json:"min_lux"`
	MaxLux            float64                   `json:"max_lux"`
	Contributions     map[string]Contribution   `json:"light_contributions"`
	ValidationResults map[string]PairValidation `json:"validation_results"`
	SettleTimeSeconds int                       `json:"settle_time_seconds"`
	ExcludedLights    []string                  `json:"excluded_lights"`
	Timestamp         time.Time                 `json:"timestamp"`
}

// TotalContribution returns the summed full-output contribution of all lights.
func (p *Profile) TotalContribution() float64 {
	var total float64
	for _, c := range p.Contributions {
		total += c.MaxContribution
	}
	return total
}

// ContributingLights returns the IDs of lights in the contribution table,
// sorted for stable output.
func (p *Profile) ContributingLights() []string {
	ids := make([]string, 0, len(p.Contributions))
	for id := range p.Contributions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PairKey builds the unordered map key for a light pair.
// PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "+" + b
}
