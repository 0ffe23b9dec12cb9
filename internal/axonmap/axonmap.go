// Package axonmap holds the precomputed routing of current along retinal
// nerve-fiber bundles and applies it to current-spread maps.
package axonmap

import (
	"errors"
	"fmt"
	"math"

	"retinasim/internal/grid"
	"retinasim/internal/model"
)

var (
	ErrGridMismatch = errors.New("axon map grid mismatch")
	ErrInvalidMap   = errors.New("invalid axon map")
)

// Pair is one weighted source cell contributing to a target cell.
type Pair struct {
	Source int
	Weight float64
}

// AxonMap stores, for every cell k of Grid, the weighted source cells whose
// current reaches k along an axon. Row k is Pairs[Offsets[k]:Offsets[k+1]].
// An AxonMap is read-only once built and safe for concurrent use.
type AxonMap struct {
	Grid    model.GridSpec
	Lambda  float64
	Rows    int
	Cols    int
	Offsets []int
	Pairs   []Pair
}

// FromRagged packs per-cell source and weight lists into row-compressed form.
func FromRagged(spec model.GridSpec, lambda float64, ids [][]int, weights [][]float64) (*AxonMap, error) {
	g, err := grid.New(spec)
	if err != nil {
		return nil, err
	}
	if len(ids) != g.Len() || len(weights) != g.Len() {
		return nil, fmt.Errorf("%w: %d id rows and %d weight rows for %d cells", ErrInvalidMap, len(ids), len(weights), g.Len())
	}

	total := 0
	for k := range ids {
		if len(ids[k]) != len(weights[k]) {
			return nil, fmt.Errorf("%w: cell %d has %d ids and %d weights", ErrInvalidMap, k, len(ids[k]), len(weights[k]))
		}
		total += len(ids[k])
	}

	m := &AxonMap{
		Grid:    spec,
		Lambda:  lambda,
		Rows:    g.Rows,
		Cols:    g.Cols,
		Offsets: make([]int, 0, g.Len()+1),
		Pairs:   make([]Pair, 0, total),
	}
	m.Offsets = append(m.Offsets, 0)
	for k := range ids {
		for n, src := range ids[k] {
			m.Pairs = append(m.Pairs, Pair{Source: src, Weight: weights[k][n]})
		}
		m.Offsets = append(m.Offsets, len(m.Pairs))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// FromRecord restores a persisted map and checks its structure.
func FromRecord(r model.AxonMapRecord) (*AxonMap, error) {
	g, err := grid.New(r.Grid)
	if err != nil {
		return nil, err
	}
	if len(r.Sources) != len(r.Weights) {
		return nil, fmt.Errorf("%w: %d sources and %d weights", ErrInvalidMap, len(r.Sources), len(r.Weights))
	}
	m := &AxonMap{
		Grid:    r.Grid,
		Lambda:  r.Lambda,
		Rows:    g.Rows,
		Cols:    g.Cols,
		Offsets: append([]int(nil), r.Offsets...),
		Pairs:   make([]Pair, len(r.Sources)),
	}
	for n := range r.Sources {
		m.Pairs[n] = Pair{Source: r.Sources[n], Weight: r.Weights[n]}
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("axon map %s: %w", r.Name, err)
	}
	return m, nil
}

// Record flattens m for persistence under name.
func (m *AxonMap) Record(name string, header model.VersionedRecord) model.AxonMapRecord {
	r := model.AxonMapRecord{
		VersionedRecord: header,
		Name:            name,
		Grid:            m.Grid,
		Lambda:          m.Lambda,
		Offsets:         append([]int(nil), m.Offsets...),
		Sources:         make([]int, len(m.Pairs)),
		Weights:         make([]float64, len(m.Pairs)),
	}
	for n, p := range m.Pairs {
		r.Sources[n] = p.Source
		r.Weights[n] = p.Weight
	}
	return r
}

func (m *AxonMap) Cells() int {
	return m.Rows * m.Cols
}

// Row returns the sources feeding cell k. The slice aliases m.
func (m *AxonMap) Row(k int) []Pair {
	return m.Pairs[m.Offsets[k]:m.Offsets[k+1]]
}

func (m *AxonMap) Validate() error {
	n := m.Cells()
	if len(m.Offsets) != n+1 {
		return fmt.Errorf("%w: %d offsets for %d cells", ErrInvalidMap, len(m.Offsets), n)
	}
	if m.Offsets[0] != 0 || m.Offsets[n] != len(m.Pairs) {
		return fmt.Errorf("%w: offsets span [%d,%d] for %d pairs", ErrInvalidMap, m.Offsets[0], m.Offsets[n], len(m.Pairs))
	}
	for k := 0; k < n; k++ {
		if m.Offsets[k+1] < m.Offsets[k] {
			return fmt.Errorf("%w: offsets decrease at cell %d", ErrInvalidMap, k)
		}
	}
	for idx, p := range m.Pairs {
		if p.Source < 0 || p.Source >= n {
			return fmt.Errorf("%w: pair %d source %d outside [0,%d)", ErrInvalidMap, idx, p.Source, n)
		}
		if p.Weight < 0 || math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) {
			return fmt.Errorf("%w: pair %d weight %g", ErrInvalidMap, idx, p.Weight)
		}
	}
	return nil
}

// CheckGrid fails unless m was built for exactly spec.
func (m *AxonMap) CheckGrid(spec model.GridSpec) error {
	mismatch := func(field string, have, want float64) error {
		return fmt.Errorf("%w: %s=%g in map, %g requested", ErrGridMismatch, field, have, want)
	}
	switch {
	case m.Grid.XLo != spec.XLo:
		return mismatch("xlo", m.Grid.XLo, spec.XLo)
	case m.Grid.XHi != spec.XHi:
		return mismatch("xhi", m.Grid.XHi, spec.XHi)
	case m.Grid.YLo != spec.YLo:
		return mismatch("ylo", m.Grid.YLo, spec.YLo)
	case m.Grid.YHi != spec.YHi:
		return mismatch("yhi", m.Grid.YHi, spec.YHi)
	case m.Grid.Sampling != spec.Sampling:
		return mismatch("sampling", m.Grid.Sampling, spec.Sampling)
	}
	return nil
}

// Apply turns a current-spread map into an effective current map: each
// output cell is the weighted sum of the input at its source cells.
func (m *AxonMap) Apply(cs grid.Map) (grid.Map, error) {
	if cs.Rows != m.Rows || cs.Cols != m.Cols || len(cs.Data) != m.Cells() {
		return grid.Map{}, fmt.Errorf("%w: map %dx%d, axon map %dx%d", grid.ErrShapeMismatch, cs.Rows, cs.Cols, m.Rows, m.Cols)
	}
	out := grid.NewMap(m.Rows, m.Cols)
	for k := range out.Data {
		sum := 0.0
		for _, p := range m.Pairs[m.Offsets[k]:m.Offsets[k+1]] {
			sum += cs.Data[p.Source] * p.Weight
		}
		out.Data[k] = sum
	}
	return out, nil
}
