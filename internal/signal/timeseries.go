package signal

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidSampling = errors.New("sampling interval must be > 0")

// TimeSeries is a uniformly sampled 1D signal. TSample is in seconds.
type TimeSeries struct {
	TSample float64
	Data    []float64
}

func NewTimeSeries(tsample float64, data []float64) (TimeSeries, error) {
	if !(tsample > 0) || math.IsInf(tsample, 0) {
		return TimeSeries{}, fmt.Errorf("%w: got %g", ErrInvalidSampling, tsample)
	}
	return TimeSeries{TSample: tsample, Data: data}, nil
}

func (ts TimeSeries) Len() int {
	return len(ts.Data)
}

// Duration returns the covered time span in seconds.
func (ts TimeSeries) Duration() float64 {
	return float64(len(ts.Data)) * ts.TSample
}

// SameSampling reports whether two sampling intervals agree to within a
// relative tolerance that absorbs decimal round-off such as 0.005/1000.
func SameSampling(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= 1e-9*scale
}

// TimeAxis returns the sample times 0, step, 2*step, ... strictly below stop.
func TimeAxis(stop, step float64) []float64 {
	if !(step > 0) || !(stop > 0) {
		return nil
	}
	n := int(math.Ceil(stop/step - 1e-9))
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) * step
	}
	return t
}
