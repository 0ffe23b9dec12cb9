package electrode

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"retinasim/internal/grid"
)

var ErrInvalidElectrode = errors.New("invalid electrode")

// Electrode is a disc electrode. All lengths are in microns.
type Electrode struct {
	Radius float64
	X      float64
	Y      float64
}

func New(radius, x, y float64) (Electrode, error) {
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius < 0 {
		return Electrode{}, fmt.Errorf("%w: radius %g", ErrInvalidElectrode, radius)
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return Electrode{}, fmt.Errorf("%w: position (%g, %g)", ErrInvalidElectrode, x, y)
	}
	return Electrode{Radius: radius, X: x, Y: y}, nil
}

// Array is an ordered set of electrodes. Stimulus k drives electrode k.
type Array struct {
	electrodes []Electrode
}

func NewArray(radii, xs, ys []float64) (Array, error) {
	if len(radii) != len(xs) || len(radii) != len(ys) {
		return Array{}, fmt.Errorf("%w: %d radii, %d xs, %d ys", ErrInvalidElectrode, len(radii), len(xs), len(ys))
	}
	electrodes := make([]Electrode, 0, len(radii))
	for k := range radii {
		e, err := New(radii[k], xs[k], ys[k])
		if err != nil {
			return Array{}, fmt.Errorf("electrode %d: %w", k, err)
		}
		electrodes = append(electrodes, e)
	}
	return Array{electrodes: electrodes}, nil
}

func ArrayOf(electrodes ...Electrode) Array {
	return Array{electrodes: append([]Electrode(nil), electrodes...)}
}

func (a Array) Len() int {
	return len(a.electrodes)
}

func (a Array) At(k int) Electrode {
	return a.electrodes[k]
}

// Electrodes returns a copy of the ordered electrodes.
func (a Array) Electrodes() []Electrode {
	return append([]Electrode(nil), a.electrodes...)
}

// Falloff is the empirical fall-off of injected current with distance from
// the electrode edge: alpha / (alpha + d^N).
type Falloff struct {
	Alpha float64
	N     float64
}

func DefaultFalloff() Falloff {
	return Falloff{Alpha: 14000, N: 1.69}
}

// Value returns the spread at distance r from the centre of an electrode of
// the given radius. Current is uniform under the disc.
func (f Falloff) Value(radius, r float64) float64 {
	if r <= radius {
		return 1
	}
	return f.Alpha / (f.Alpha + math.Pow(r-radius, f.N))
}

// CurrentSpread evaluates the fall-off of e at every cell of g.
func (f Falloff) CurrentSpread(e Electrode, g *grid.Grid) grid.Map {
	m := g.NewMap()
	for k := range m.Data {
		r := math.Hypot(g.X[k]-e.X, g.Y[k]-e.Y)
		m.Data[k] = f.Value(e.Radius, r)
	}
	return m
}

// ArraySpread superposes the raw current spread of every electrode in a.
func (f Falloff) ArraySpread(a Array, g *grid.Grid) grid.Map {
	total := g.NewMap()
	for _, e := range a.electrodes {
		floats.Add(total.Data, f.CurrentSpread(e, g).Data)
	}
	return total
}
