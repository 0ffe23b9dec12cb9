package temporal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"retinasim/internal/signal"
)

// Cascade is a compiled Model. It is immutable and safe for concurrent use.
type Cascade struct {
	model  Model
	fast   []float64
	charge []float64
	slow   []float64
}

// Stages holds the output of every step of one cascade evaluation.
type Stages struct {
	Fast      []float64
	Charge    []float64
	Nonlinear []float64
	Slow      []float64
}

func (c *Cascade) Model() Model {
	return c.model
}

// KernelLengths returns the sample counts of the fast, charge and slow kernels.
func (c *Cascade) KernelLengths() (fast, charge, slow int) {
	return len(c.fast), len(c.charge), len(c.slow)
}

// FastResponse convolves the stimulus with the one-stage tau1 integrator.
func (c *Cascade) FastResponse(stim []float64) []float64 {
	r := signal.Convolve(c.model.Method, c.fast, stim)
	floats.Scale(c.model.Fs, r)
	return r
}

// ChargeAccumulation subtracts the integrated, rectified charge of stim from
// the fast response and rectifies the difference. The shorter of the two is
// zero padded.
func (c *Cascade) ChargeAccumulation(fast, stim []float64) []float64 {
	ca := make([]float64, len(stim))
	for i, v := range stim {
		if v > 0 {
			ca[i] = v
		}
	}
	floats.CumSum(ca, ca)
	floats.Scale(c.model.Fs, ca)

	accumulated := signal.Convolve(c.model.Method, c.charge, ca)
	floats.Scale(c.model.E*c.model.Fs, accumulated)

	out := make([]float64, max(len(fast), len(accumulated)))
	for i := range out {
		var f, a float64
		if i < len(fast) {
			f = fast[i]
		}
		if i < len(accumulated) {
			a = accumulated[i]
		}
		if d := f - a; d > 0 {
			out[i] = d
		}
	}
	return out
}

// StationaryNonlinearity normalizes r by its maximum and rescales it with a
// sigmoid of the unnormalized values. A response with no positive value
// maps to zeros.
func (c *Cascade) StationaryNonlinearity(r []float64) []float64 {
	out := make([]float64, len(r))
	if len(r) == 0 {
		return out
	}
	peak := floats.Max(r)
	if !(peak > 0) {
		return out
	}
	m := c.model
	for i, v := range r {
		scale := m.Asymptote / (1 + math.Exp(-(v/m.Slope)+m.Shift))
		out[i] = v / peak * scale
	}
	return out
}

// SlowResponse convolves r with the three-stage tau3 integrator.
func (c *Cascade) SlowResponse(r []float64) []float64 {
	out := signal.Convolve(c.model.Method, c.slow, r)
	floats.Scale(c.model.Fs, out)
	return out
}

// Run evaluates all four stages on stim.
func (c *Cascade) Run(stim []float64) Stages {
	var s Stages
	s.Fast = c.FastResponse(stim)
	s.Charge = c.ChargeAccumulation(s.Fast, stim)
	s.Nonlinear = c.StationaryNonlinearity(s.Charge)
	s.Slow = c.SlowResponse(s.Nonlinear)
	return s
}

// Brightness runs the cascade on an effective current series sampled at the
// model's Fs and returns the brightness over time.
func (c *Cascade) Brightness(current signal.TimeSeries) (signal.TimeSeries, error) {
	if !signal.SameSampling(current.TSample, c.model.Fs) {
		return signal.TimeSeries{}, fmt.Errorf("%w: series %g s, model %g s", ErrSamplingMismatch, current.TSample, c.model.Fs)
	}
	s := c.Run(current.Data)
	return signal.TimeSeries{TSample: c.model.Fs, Data: s.Slow}, nil
}
