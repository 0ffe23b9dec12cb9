package grid

import (
	"errors"
	"fmt"
	"math"

	"retinasim/internal/model"
)

var (
	ErrInvalidSpec   = errors.New("invalid grid spec")
	ErrShapeMismatch = errors.New("map shape mismatch")
)

// Grid is a row-major coordinate mesh. Cell (i, j) is column i and row j and
// lives at flat index j*Cols+i.
type Grid struct {
	Spec model.GridSpec
	Rows int
	Cols int
	X    []float64
	Y    []float64
}

// New samples spec the way a half-open arange does on each axis.
func New(spec model.GridSpec) (*Grid, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}
	xs := axis(spec.XLo, spec.XHi, spec.Sampling)
	ys := axis(spec.YLo, spec.YHi, spec.Sampling)

	g := &Grid{
		Spec: spec,
		Rows: len(ys),
		Cols: len(xs),
		X:    make([]float64, len(xs)*len(ys)),
		Y:    make([]float64, len(xs)*len(ys)),
	}
	for j, y := range ys {
		row := j * g.Cols
		for i, x := range xs {
			g.X[row+i] = x
			g.Y[row+i] = y
		}
	}
	return g, nil
}

func Validate(spec model.GridSpec) error {
	for _, v := range []float64{spec.XLo, spec.XHi, spec.YLo, spec.YHi, spec.Sampling} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bound in %s", ErrInvalidSpec, spec)
		}
	}
	if spec.Sampling <= 0 {
		return fmt.Errorf("%w: sampling must be > 0, got %g", ErrInvalidSpec, spec.Sampling)
	}
	if spec.XHi <= spec.XLo || spec.YHi <= spec.YLo {
		return fmt.Errorf("%w: empty extent %s", ErrInvalidSpec, spec)
	}
	return nil
}

func axis(lo, hi, step float64) []float64 {
	n := int(math.Ceil((hi - lo) / step))
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	return g.Rows * g.Cols
}

func (g *Grid) Index(i, j int) int {
	return j*g.Cols + i
}

func (g *Grid) Contains(i, j int) bool {
	return i >= 0 && i < g.Cols && j >= 0 && j < g.Rows
}

// NewMap returns a zero map shaped like g.
func (g *Grid) NewMap() Map {
	return NewMap(g.Rows, g.Cols)
}

// Map is a 2D real array laid out like a Grid.
type Map struct {
	Rows int
	Cols int
	Data []float64
}

func NewMap(rows, cols int) Map {
	return Map{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the value at column i, row j.
func (m Map) At(i, j int) float64 {
	return m.Data[j*m.Cols+i]
}

func (m Map) Set(i, j int, v float64) {
	m.Data[j*m.Cols+i] = v
}

func (m Map) SameShape(o Map) bool {
	return m.Rows == o.Rows && m.Cols == o.Cols && len(m.Data) == len(o.Data)
}

func (m Map) Clone() Map {
	out := Map{Rows: m.Rows, Cols: m.Cols, Data: make([]float64, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// CheckShape reports ErrShapeMismatch unless m matches g.
func (g *Grid) CheckShape(m Map) error {
	if m.Rows != g.Rows || m.Cols != g.Cols || len(m.Data) != g.Len() {
		return fmt.Errorf("%w: map %dx%d, grid %dx%d", ErrShapeMismatch, m.Rows, m.Cols, g.Rows, g.Cols)
	}
	return nil
}
