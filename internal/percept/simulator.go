package percept

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"retinasim/internal/electrode"
	"retinasim/internal/grid"
	"retinasim/internal/model"
	"retinasim/internal/retina"
	"retinasim/internal/signal"
	"retinasim/internal/storage"
	"retinasim/internal/temporal"
)

type Config struct {
	Retina  *retina.Retina
	Cascade *temporal.Cascade
	Falloff electrode.Falloff
	// Workers bounds the number of cells evaluated at once; <= 0 uses GOMAXPROCS.
	Workers int
}

// Cell addresses grid column I, row J.
type Cell struct {
	I int
	J int
}

type Request struct {
	Array   electrode.Array
	Stimuli []signal.TimeSeries
	// Cells restricts evaluation; empty means every grid cell.
	Cells []Cell
	// KeepSeries retains per-cell current and brightness series in the result.
	KeepSeries bool
}

type CellResult struct {
	Cell
	Current    signal.TimeSeries
	Brightness signal.TimeSeries
	Peak       float64
}

type Result struct {
	Cells []CellResult
	// PeakMap holds the peak brightness of every evaluated cell.
	PeakMap   grid.Map
	Effective []grid.Map
	Spread    []grid.Map
	Samples   int
}

// Simulator runs the full electrode-to-brightness pipeline. Electrode maps
// are computed once per run; grid cells are then independent and evaluated
// in parallel.
type Simulator struct {
	retina  *retina.Retina
	cascade *temporal.Cascade
	falloff electrode.Falloff
	workers int
}

func NewSimulator(cfg Config) (*Simulator, error) {
	if cfg.Retina == nil {
		return nil, errors.New("retina is required")
	}
	if cfg.Cascade == nil {
		return nil, errors.New("temporal cascade is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	falloff := cfg.Falloff
	if falloff == (electrode.Falloff{}) {
		falloff = electrode.DefaultFalloff()
	}
	return &Simulator{retina: cfg.Retina, cascade: cfg.Cascade, falloff: falloff, workers: workers}, nil
}

func (s *Simulator) Run(ctx context.Context, req Request) (Result, error) {
	if err := retina.CheckStimuli(req.Array.Len(), req.Stimuli); err != nil {
		return Result{}, err
	}
	g := s.retina.Grid()
	cells := req.Cells
	if len(cells) == 0 {
		cells = allCells(g)
	}
	for _, c := range cells {
		if !g.Contains(c.I, c.J) {
			return Result{}, fmt.Errorf("cell (%d,%d) outside %dx%d grid", c.I, c.J, g.Cols, g.Rows)
		}
	}

	effective, spread, err := s.retina.ElectrodeMaps(ctx, req.Array, s.falloff)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Cells:     make([]CellResult, len(cells)),
		PeakMap:   g.NewMap(),
		Effective: effective,
		Spread:    spread,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for n, c := range cells {
		n, c := n, c
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			current, err := retina.CombineAt(c.I, c.J, effective, req.Stimuli)
			if err != nil {
				return err
			}
			brightness, err := s.cascade.Brightness(current)
			if err != nil {
				return fmt.Errorf("cell (%d,%d): %w", c.I, c.J, err)
			}
			peak := 0.0
			if brightness.Len() > 0 {
				peak = floats.Max(brightness.Data)
			}
			out := CellResult{Cell: c, Peak: peak}
			if req.KeepSeries {
				out.Current = current
				out.Brightness = brightness
			}
			res.Cells[n] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}
	for _, c := range res.Cells {
		res.PeakMap.Set(c.I, c.J, c.Peak)
	}
	if len(req.Stimuli) > 0 {
		res.Samples = req.Stimuli[0].Len()
	}
	return res, nil
}

// Summarize condenses a result into a persistable record.
func (s *Simulator) Summarize(runID, axonMap string, createdAt time.Time, electrodes int, res Result) model.PerceptRecord {
	m := s.cascade.Model()
	record := model.PerceptRecord{
		VersionedRecord: storage.Versioned(),
		RunID:           runID,
		CreatedAtUTC:    createdAt.UTC().Format(time.RFC3339Nano),
		AxonMap:         axonMap,
		Grid:            s.retina.Grid().Spec,
		Electrodes:      electrodes,
		Method:          m.Method.String(),
		TSample:         m.Fs,
		Samples:         res.Samples,
		Cells:           make([]model.CellPeak, len(res.Cells)),
	}
	for n, c := range res.Cells {
		record.Cells[n] = model.CellPeak{I: c.I, J: c.J, Peak: c.Peak}
		if c.Peak > record.MaxPeak {
			record.MaxPeak = c.Peak
		}
	}
	return record
}

func allCells(g *grid.Grid) []Cell {
	cells := make([]Cell, 0, g.Len())
	for j := 0; j < g.Rows; j++ {
		for i := 0; i < g.Cols; i++ {
			cells = append(cells, Cell{I: i, J: j})
		}
	}
	return cells
}
