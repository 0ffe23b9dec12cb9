// Package stimulus produces biphasic pulse-train current waveforms for
// psychophysics-style experiments.
package stimulus

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"retinasim/internal/signal"
)

var ErrInvalidPulse = errors.New("invalid pulse parameters")

type Polarity int

const (
	// CathodicFirst puts the positive phase first.
	CathodicFirst Polarity = iota
	AnodicFirst
)

func (p Polarity) String() string {
	switch p {
	case CathodicFirst:
		return "cathodicfirst"
	case AnodicFirst:
		return "anodicfirst"
	default:
		return fmt.Sprintf("Polarity(%d)", int(p))
	}
}

func ParsePolarity(name string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cathodicfirst", "cathodic":
		return CathodicFirst, nil
	case "anodicfirst", "anodic":
		return AnodicFirst, nil
	default:
		return 0, fmt.Errorf("%w: unknown polarity %q", ErrInvalidPulse, name)
	}
}

// Pulse returns one unit-amplitude biphasic pulse: phase, interphase gap,
// opposite phase. Durations are in seconds.
func Pulse(pulseDur, interphaseDur, tsample float64, p Polarity) ([]float64, error) {
	if !(tsample > 0) {
		return nil, fmt.Errorf("%w: tsample must be > 0", ErrInvalidPulse)
	}
	if !(pulseDur > 0) || interphaseDur < 0 {
		return nil, fmt.Errorf("%w: pulse %g s, interphase %g s", ErrInvalidPulse, pulseDur, interphaseDur)
	}
	on := samples(pulseDur, tsample)
	gap := samples(interphaseDur, tsample)
	if on == 0 {
		return nil, fmt.Errorf("%w: pulse shorter than one sample", ErrInvalidPulse)
	}

	first := 1.0
	switch p {
	case CathodicFirst:
	case AnodicFirst:
		first = -1
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidPulse, p)
	}

	out := make([]float64, 2*on+gap)
	for i := 0; i < on; i++ {
		out[i] = first
		out[on+gap+i] = -first
	}
	return out, nil
}

// PulseTrainSpec describes a regular pulse train. Times are in seconds,
// Freq in Hz and Amplitude in microamps.
type PulseTrainSpec struct {
	Freq          float64
	Dur           float64
	PulseDur      float64
	InterphaseDur float64
	Delay         float64
	TSample       float64
	Amplitude     float64
	Polarity      Polarity
}

func DefaultPulseTrain() PulseTrainSpec {
	return PulseTrainSpec{
		Freq:          20,
		Dur:           0.5,
		PulseDur:      0.075 / 1000,
		InterphaseDur: 0.075 / 1000,
		TSample:       0.005 / 1000,
		Amplitude:     20,
		Polarity:      CathodicFirst,
	}
}

// PulseTrain renders spec as a time series of round(Dur/TSample) samples.
// Each period is an inter-pulse gap followed by one pulse; Delay shifts the
// whole train later.
func PulseTrain(spec PulseTrainSpec) (signal.TimeSeries, error) {
	pulse, err := Pulse(spec.PulseDur, spec.InterphaseDur, spec.TSample, spec.Polarity)
	if err != nil {
		return signal.TimeSeries{}, err
	}
	if !(spec.Freq > 0) || !(spec.Dur > 0) || spec.Delay < 0 {
		return signal.TimeSeries{}, fmt.Errorf("%w: freq %g Hz, dur %g s, delay %g s", ErrInvalidPulse, spec.Freq, spec.Dur, spec.Delay)
	}
	period := samples(1/spec.Freq, spec.TSample)
	if period < len(pulse) {
		return signal.TimeSeries{}, fmt.Errorf("%w: %g Hz period shorter than one pulse", ErrInvalidPulse, spec.Freq)
	}

	n := samples(spec.Dur, spec.TSample)
	data := make([]float64, n)
	offset := samples(spec.Delay, spec.TSample)
	count := int(math.Ceil(spec.Dur * spec.Freq))
	for p := 0; p < count; p++ {
		start := offset + p*period + period - len(pulse)
		for i, v := range pulse {
			if start+i >= n {
				break
			}
			data[start+i] = spec.Amplitude * v
		}
	}
	return signal.NewTimeSeries(spec.TSample, data)
}

func samples(dur, tsample float64) int {
	return int(math.Round(dur / tsample))
}
