package axonmap

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Builder computes the axon routing for a grid given in visual degrees.
// xdeg and ydeg are row-major with rows*cols entries. The result is, for
// every cell, the source cells feeding it and their weights.
type Builder interface {
	Build(ctx context.Context, xdeg, ydeg []float64, rows, cols int, lambda float64) ([][]int, [][]float64, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, xdeg, ydeg []float64, rows, cols int, lambda float64) ([][]int, [][]float64, error)

func (f BuilderFunc) Build(ctx context.Context, xdeg, ydeg []float64, rows, cols int, lambda float64) ([][]int, [][]float64, error) {
	return f(ctx, xdeg, ydeg, rows, cols, lambda)
}

const (
	DefaultOpticDiscX = 15.0
	DefaultOpticDiscY = 2.0
)

// FiberBuilder approximates each nerve fiber as the straight path from a
// cell to the optic disc. A cell receives current from every cell its fiber
// crosses, attenuated by exp(-s/lambda) where s is the path length in degrees.
type FiberBuilder struct {
	OpticDiscX float64
	OpticDiscY float64
	// StepFraction is the marching step as a fraction of the grid pitch.
	StepFraction float64
}

func NewFiberBuilder() FiberBuilder {
	return FiberBuilder{OpticDiscX: DefaultOpticDiscX, OpticDiscY: DefaultOpticDiscY, StepFraction: 0.5}
}

func (b FiberBuilder) Build(ctx context.Context, xdeg, ydeg []float64, rows, cols int, lambda float64) ([][]int, [][]float64, error) {
	n := rows * cols
	if n == 0 || len(xdeg) != n || len(ydeg) != n {
		return nil, nil, fmt.Errorf("fiber builder: %d x and %d y coordinates for %dx%d grid", len(xdeg), len(ydeg), rows, cols)
	}
	if !(lambda > 0) {
		return nil, nil, errors.New("fiber builder: axon lambda must be > 0")
	}

	x0, y0 := xdeg[0], ydeg[0]
	dx, dy := pitch(xdeg, 1, cols), pitch(ydeg, cols, rows)
	step := b.StepFraction
	if !(step > 0) {
		step = 0.5
	}
	step *= math.Min(dx, dy)

	ids := make([][]int, n)
	weights := make([][]float64, n)
	for j := 0; j < rows; j++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		for i := 0; i < cols; i++ {
			k := j*cols + i
			ids[k], weights[k] = b.trace(xdeg[k], ydeg[k], x0, y0, dx, dy, rows, cols, step, lambda)
		}
	}
	return ids, weights, nil
}

func (b FiberBuilder) trace(x, y, x0, y0, dx, dy float64, rows, cols int, step, lambda float64) ([]int, []float64) {
	dist := math.Hypot(b.OpticDiscX-x, b.OpticDiscY-y)
	var ux, uy float64
	if dist > 0 {
		ux, uy = (b.OpticDiscX-x)/dist, (b.OpticDiscY-y)/dist
	}

	var (
		ids     []int
		weights []float64
		last    = -1
	)
	for s := 0.0; s <= dist; s += step {
		px, py := x+s*ux, y+s*uy
		i := int(math.Round((px - x0) / dx))
		j := int(math.Round((py - y0) / dy))
		if i < 0 || i >= cols || j < 0 || j >= rows {
			break
		}
		k := j*cols + i
		if k != last {
			ids = append(ids, k)
			weights = append(weights, math.Exp(-s/lambda))
			last = k
		}
	}
	return ids, weights
}

// pitch is the coordinate spacing between consecutive samples along one axis;
// single-sample axes fall back to unit spacing.
func pitch(coords []float64, stride, count int) float64 {
	if count < 2 {
		return 1
	}
	d := coords[stride] - coords[0]
	if d <= 0 {
		return 1
	}
	return d
}
