package signal

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestConvolveDirectKnownValues(t *testing.T) {
	got := Convolve(Direct, []float64{1, 2, 3}, []float64{0, 1, 0.5})
	want := []float64{0, 1, 2.5, 4, 1.5}
	assertClose(t, got, want, 1e-12)
}

func TestConvolveMethodsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	kernel := make([]float64, 37)
	for i := range kernel {
		kernel[i] = rng.Float64()
	}
	sig := make([]float64, 211)
	for i := range sig {
		if i%9 == 0 {
			sig[i] = rng.NormFloat64()
		}
	}

	direct := Convolve(Direct, kernel, sig)
	if len(direct) != len(kernel)+len(sig)-1 {
		t.Fatalf("unexpected full length: got=%d", len(direct))
	}
	assertClose(t, Convolve(FFT, kernel, sig), direct, 1e-9)
	assertClose(t, Convolve(Sparse, kernel, sig), direct, 1e-12)
}

func TestConvolveEmptyInput(t *testing.T) {
	for _, m := range []ConvolutionMethod{Direct, FFT, Sparse} {
		if got := Convolve(m, nil, []float64{1}); got != nil {
			t.Fatalf("%s: expected nil for empty kernel, got=%v", m, got)
		}
		if got := Convolve(m, []float64{1}, nil); got != nil {
			t.Fatalf("%s: expected nil for empty signal, got=%v", m, got)
		}
	}
}

func TestParseMethod(t *testing.T) {
	cases := map[string]ConvolutionMethod{
		"":            Direct,
		"numpy":       Direct,
		"direct":      Direct,
		"FFT":         FFT,
		"fftconvolve": FFT,
		"sparseconv":  Sparse,
		" sparse ":    Sparse,
	}
	for name, want := range cases {
		got, err := ParseMethod(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if got != want {
			t.Fatalf("parse %q: got=%s want=%s", name, got, want)
		}
	}
	if _, err := ParseMethod("winograd"); err == nil {
		t.Fatal("expected unsupported method error")
	}
	if ConvolutionMethod(9).Valid() {
		t.Fatal("expected unknown method to be invalid")
	}
}

func TestTimeSeriesHelpers(t *testing.T) {
	if _, err := NewTimeSeries(0, nil); !errors.Is(err, ErrInvalidSampling) {
		t.Fatalf("expected ErrInvalidSampling, got %v", err)
	}
	ts, err := NewTimeSeries(0.5, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("new time series: %v", err)
	}
	if ts.Len() != 4 || ts.Duration() != 2 {
		t.Fatalf("unexpected len/duration: %d %f", ts.Len(), ts.Duration())
	}
	if !SameSampling(0.005/1000, 5e-6) {
		t.Fatal("expected equivalent sampling intervals to match")
	}
	if SameSampling(1e-5, 2e-5) {
		t.Fatal("expected different sampling intervals to differ")
	}
}

func TestTimeAxis(t *testing.T) {
	axis := TimeAxis(20*0.42/1000, 0.01/1000)
	if len(axis) != 840 {
		t.Fatalf("unexpected axis length: got=%d want=840", len(axis))
	}
	if axis[0] != 0 {
		t.Fatalf("expected axis to start at zero, got=%f", axis[0])
	}
	if TimeAxis(1, 0) != nil {
		t.Fatal("expected nil axis for zero step")
	}
}

func assertClose(t *testing.T, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("mismatch at %d: got=%g want=%g", i, got[i], want[i])
		}
	}
}
