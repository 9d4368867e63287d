package hue

import "math"

// The device layer uses a 0..255 brightness scale; the bridge accepts 1..254.

func toHueBrightness(v uint8) uint8 {
	if v == 0 {
		return 1
	}
	scaled := math.Round(float64(v) * 254.0 / 255.0)
	if scaled < 1 {
		return 1
	}
	if scaled > 254 {
		return 254
	}
	return uint8(scaled)
}

func fromHueBrightness(v uint8) uint8 {
	scaled := math.Round(float64(v) * 255.0 / 254.0)
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}

// lightLevelToLux converts a ZLLLightLevel reading to lux. The sensor reports
// 10000 * log10(lux) + 1 so the scale stays usable at very low light.
func lightLevelToLux(level float64) float64 {
	if level <= 0 {
		return 0
	}
	return math.Pow(10, (level-1)/10000.0)
}

// rgbToXY converts an sRGB color to a CIE xy point with brightness, using the
// gamut-agnostic conversion the bridge documentation describes.
func rgbToXY(r, g, b uint8) ([]float32, uint8) {
	red := gammaExpand(float64(r) / 255.0)
	green := gammaExpand(float64(g) / 255.0)
	blue := gammaExpand(float64(b) / 255.0)

	x := red*0.664511 + green*0.154324 + blue*0.162028
	y := red*0.283881 + green*0.668433 + blue*0.047685
	z := red*0.000088 + green*0.072310 + blue*0.986039

	sum := x + y + z
	if sum == 0 {
		return []float32{0, 0}, 0
	}

	bri := math.Round(y * 254.0)
	if bri > 254 {
		bri = 254
	}
	return []float32{float32(x / sum), float32(y / sum)}, uint8(bri)
}

func gammaExpand(c float64) float64 {
	if c > 0.04045 {
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	return c / 12.92
}
