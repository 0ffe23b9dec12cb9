package temporal

import "math"

// Gamma returns the impulse response of an n-stage leaky integrator with
// time constant tau sampled at times t:
//
//	y = (t/tau)^(n-1) * exp(-t/tau) / (tau * (n-1)!)
//
// When t starts exactly at 0 the first sample is 0 rather than the formula
// value, which for n=1 would be 1/tau.
func Gamma(n int, tau float64, t []float64) []float64 {
	y := make([]float64, len(t))
	if len(t) == 0 {
		return y
	}
	start := 0
	if t[0] == 0 {
		start = 1
	}
	norm := tau * math.Gamma(float64(n))
	for i := start; i < len(t); i++ {
		x := t[i] / tau
		y[i] = math.Pow(x, float64(n-1)) * math.Exp(-x) / norm
	}
	return y
}
