// Package units converts between retinal distances in microns and visual
// angle in degrees.
package units

// MicronsPerDegree is the retinal magnification factor. Precomputed axon
// maps are keyed on grids converted with this exact value.
const MicronsPerDegree = 280.0

func MicronToDeg(micron float64) float64 {
	return micron / MicronsPerDegree
}

func DegToMicron(deg float64) float64 {
	return MicronsPerDegree * deg
}

// MicronsToDeg converts every element of values into a new slice.
func MicronsToDeg(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = MicronToDeg(v)
	}
	return out
}
