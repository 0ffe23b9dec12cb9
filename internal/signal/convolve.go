package signal

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// ConvolutionMethod selects how full linear convolution is evaluated. All
// methods agree up to floating-point round-off.
type ConvolutionMethod int

const (
	// Direct is the O(n*m) sum of shifted products.
	Direct ConvolutionMethod = iota
	// FFT multiplies real spectra of zero-padded inputs.
	FFT
	// Sparse only visits nonzero samples of the signal, which suits pulse trains.
	Sparse
)

func (m ConvolutionMethod) String() string {
	switch m {
	case Direct:
		return "direct"
	case FFT:
		return "fft"
	case Sparse:
		return "sparse"
	default:
		return fmt.Sprintf("ConvolutionMethod(%d)", int(m))
	}
}

func (m ConvolutionMethod) Valid() bool {
	return m == Direct || m == FFT || m == Sparse
}

// ParseMethod accepts the canonical names plus the numpy/scipy spellings
// used by older parameter files.
func ParseMethod(name string) (ConvolutionMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "direct", "numpy":
		return Direct, nil
	case "fft", "fftconvolve", "frequency":
		return FFT, nil
	case "sparse", "sparseconv":
		return Sparse, nil
	default:
		return 0, fmt.Errorf("unsupported convolution method: %s", name)
	}
}

// Convolve returns the full convolution of kernel and sig, of length
// len(kernel)+len(sig)-1. Either input being empty yields nil.
func Convolve(method ConvolutionMethod, kernel, sig []float64) []float64 {
	if len(kernel) == 0 || len(sig) == 0 {
		return nil
	}
	switch method {
	case FFT:
		return convolveFFT(kernel, sig)
	case Sparse:
		return convolveSparse(kernel, sig)
	default:
		return convolveDirect(kernel, sig)
	}
}

func convolveDirect(kernel, sig []float64) []float64 {
	out := make([]float64, len(kernel)+len(sig)-1)
	for i, s := range sig {
		floats.AddScaled(out[i:i+len(kernel)], s, kernel)
	}
	return out
}

func convolveSparse(kernel, sig []float64) []float64 {
	out := make([]float64, len(kernel)+len(sig)-1)
	for i, s := range sig {
		if s == 0 {
			continue
		}
		floats.AddScaled(out[i:i+len(kernel)], s, kernel)
	}
	return out
}

func convolveFFT(kernel, sig []float64) []float64 {
	n := len(kernel) + len(sig) - 1
	size := nextPow2(n)
	fft := fourier.NewFFT(size)

	a := make([]float64, size)
	copy(a, kernel)
	b := make([]float64, size)
	copy(b, sig)

	ca := fft.Coefficients(nil, a)
	cb := fft.Coefficients(nil, b)
	for i := range ca {
		ca[i] *= cb[i]
	}
	seq := fft.Sequence(nil, ca)

	// Sequence is unnormalized.
	scale := 1 / float64(size)
	out := make([]float64, n)
	for i := range out {
		out[i] = seq[i] * scale
	}
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
