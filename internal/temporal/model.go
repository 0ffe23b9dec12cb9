// Package temporal converts an effective current time series into a
// brightness time series: fast leaky integration, charge-accumulation
// desensitization, a sigmoidal stationary nonlinearity and a slow
// three-stage integrator.
package temporal

import (
	"errors"
	"fmt"
	"math"

	"retinasim/internal/signal"
)

var (
	ErrInvalidModel     = errors.New("invalid temporal model")
	ErrSamplingMismatch = errors.New("time series sampling does not match model")
)

// Kernel supports, in multiples of the matching time constant.
const (
	fastSupport   = 20
	chargeSupport = 8
	slowSupport   = 8
)

// Model holds the cascade parameters. Times are in seconds.
type Model struct {
	// Fs is the sampling interval of the kernels and of accepted input.
	Fs float64
	// Tau1 is the fast integrator, typically 0.24-0.65 ms.
	Tau1 float64
	// Tau2 is the charge-accumulation integrator, typically 38-57 ms.
	Tau2 float64
	Tau3 float64
	// E scales the effect of accumulated charge: 2-3 near threshold, 8-10 suprathreshold.
	E float64
	// Beta is carried with published parameter sets; no stage reads it.
	Beta      float64
	Asymptote float64
	Slope     float64
	Shift     float64
	Method    signal.ConvolutionMethod
}

func DefaultModel() Model {
	return Model{
		Fs:        0.01 / 1000,
		Tau1:      0.42 / 1000,
		Tau2:      45.25 / 1000,
		Tau3:      26.25 / 1000,
		E:         8.73,
		Beta:      0.6,
		Asymptote: 14,
		Slope:     3,
		Shift:     16,
		Method:    signal.FFT,
	}
}

func (m Model) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"fs", m.Fs},
		{"tau1", m.Tau1},
		{"tau2", m.Tau2},
		{"tau3", m.Tau3},
	}
	for _, p := range positive {
		if !(p.value > 0) || math.IsInf(p.value, 0) {
			return fmt.Errorf("%w: %s must be > 0, got %g", ErrInvalidModel, p.name, p.value)
		}
	}
	if m.Slope == 0 || math.IsNaN(m.Slope) {
		return fmt.Errorf("%w: slope must be nonzero", ErrInvalidModel)
	}
	for _, v := range []float64{m.E, m.Asymptote, m.Shift} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite parameter", ErrInvalidModel)
		}
	}
	if !m.Method.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidModel, m.Method)
	}
	return nil
}

// Compile validates m and samples its three kernels once.
func (m Model) Compile() (*Cascade, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Cascade{
		model:  m,
		fast:   Gamma(1, m.Tau1, signal.TimeAxis(fastSupport*m.Tau1, m.Fs)),
		charge: Gamma(1, m.Tau2, signal.TimeAxis(chargeSupport*m.Tau2, m.Fs)),
		slow:   Gamma(3, m.Tau3, signal.TimeAxis(slowSupport*m.Tau3, m.Fs)),
	}, nil
}
