package retina

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"retinasim/internal/axonmap"
	"retinasim/internal/electrode"
	"retinasim/internal/grid"
	"retinasim/internal/model"
	"retinasim/internal/signal"
)

const (
	DefaultAxonLambda  = 2.0
	DefaultAxonMapName = "axons"
)

var (
	ErrCountMismatch    = errors.New("effective map and stimulus counts differ")
	ErrSamplingMismatch = errors.New("stimulus sampling intervals differ")
	ErrLengthMismatch   = errors.New("stimulus lengths differ")
)

// Retina is the retinal coordinate frame together with the axon map built
// for exactly that frame.
type Retina struct {
	grid  *grid.Grid
	axons *axonmap.AxonMap
}

func New(spec model.GridSpec, axons *axonmap.AxonMap) (*Retina, error) {
	g, err := grid.New(spec)
	if err != nil {
		return nil, err
	}
	if axons == nil {
		return nil, errors.New("axon map is required")
	}
	if err := axons.CheckGrid(spec); err != nil {
		return nil, err
	}
	return &Retina{grid: g, axons: axons}, nil
}

// Load fetches (or builds) the named axon map through cache and binds it to spec.
func Load(ctx context.Context, cache *axonmap.Cache, name string, spec model.GridSpec, lambda float64) (*Retina, error) {
	axons, err := cache.Get(ctx, name, spec, lambda)
	if err != nil {
		return nil, err
	}
	return New(spec, axons)
}

func (r *Retina) Grid() *grid.Grid {
	return r.grid
}

func (r *Retina) AxonMap() *axonmap.AxonMap {
	return r.axons
}

// EffectiveCurrent passes a current-spread map through the axon routing.
func (r *Retina) EffectiveCurrent(cs grid.Map) (grid.Map, error) {
	if err := r.grid.CheckShape(cs); err != nil {
		return grid.Map{}, err
	}
	return r.axons.Apply(cs)
}

// ElectrodeMaps computes the current spread and effective current spread of
// every electrode in a, indexed like a. Electrodes are processed in parallel.
func (r *Retina) ElectrodeMaps(ctx context.Context, a electrode.Array, f electrode.Falloff) (effective, spread []grid.Map, err error) {
	effective = make([]grid.Map, a.Len())
	spread = make([]grid.Map, a.Len())

	g, ctx := errgroup.WithContext(ctx)
	for k := 0; k < a.Len(); k++ {
		k := k
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cs := f.CurrentSpread(a.At(k), r.grid)
			ecs, err := r.axons.Apply(cs)
			if err != nil {
				return fmt.Errorf("electrode %d: %w", k, err)
			}
			spread[k] = cs
			effective[k] = ecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return effective, spread, nil
}

// CombinedEffectiveCurrent is the effective current over time at column i,
// row j: the sum over electrodes of effective[e](i, j) * stimuli[e].
// All stimuli must share one sampling interval and one length.
func (r *Retina) CombinedEffectiveCurrent(i, j int, effective []grid.Map, stimuli []signal.TimeSeries) (signal.TimeSeries, error) {
	if !r.grid.Contains(i, j) {
		return signal.TimeSeries{}, fmt.Errorf("cell (%d,%d) outside %dx%d grid", i, j, r.grid.Cols, r.grid.Rows)
	}
	return CombineAt(i, j, effective, stimuli)
}

// CombineAt is CombinedEffectiveCurrent without the grid bounds check.
func CombineAt(i, j int, effective []grid.Map, stimuli []signal.TimeSeries) (signal.TimeSeries, error) {
	if err := CheckStimuli(len(effective), stimuli); err != nil {
		return signal.TimeSeries{}, err
	}

	out := make([]float64, stimuli[0].Len())
	for e, ecs := range effective {
		floats.AddScaled(out, ecs.At(i, j), stimuli[e].Data)
	}
	return signal.TimeSeries{TSample: stimuli[0].TSample, Data: out}, nil
}

// CheckStimuli validates that stimuli can be paired with n electrodes.
func CheckStimuli(n int, stimuli []signal.TimeSeries) error {
	if n == 0 || n != len(stimuli) {
		return fmt.Errorf("%w: %d maps, %d stimuli", ErrCountMismatch, n, len(stimuli))
	}
	ref := stimuli[0]
	for e, s := range stimuli[1:] {
		if !signal.SameSampling(s.TSample, ref.TSample) {
			return fmt.Errorf("%w: stimulus %d has %g, stimulus 0 has %g", ErrSamplingMismatch, e+1, s.TSample, ref.TSample)
		}
		if s.Len() != ref.Len() {
			return fmt.Errorf("%w: stimulus %d has %d samples, stimulus 0 has %d", ErrLengthMismatch, e+1, s.Len(), ref.Len())
		}
	}
	return nil
}
