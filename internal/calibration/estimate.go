package calibration

import (
	"math"

	"github.com/dokzlo13/luxd/internal/device"
	"github.com/dokzlo13/luxd/internal/profile"
)

// EstimateLux computes the estimated room illuminance from live light states
// and calibrated contributions. Each light that is on contributes its
// maximum contribution scaled linearly by brightness; lights that are off,
// unknown, or uncalibrated contribute nothing. The result is rounded to one
// decimal place.
func EstimateLux(states map[string]device.LightState, contribs map[string]profile.Contribution) float64 {
	var total float64
	for id, contrib := range contribs {
		st, ok := states[id]
		if !ok || !st.On {
			continue
		}
		total += contrib.MaxContribution * float64(st.Brightness) / float64(device.FullBrightness)
	}
	return math.Round(total*10) / 10
}
