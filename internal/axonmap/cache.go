package axonmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"retinasim/internal/grid"
	"retinasim/internal/model"
	"retinasim/internal/storage"
	"retinasim/internal/units"
)

// Cache resolves named axon maps: memory first, then the store, and only
// when neither has the name does it run the Builder and persist the result.
// A map found under a name but built for another grid is an error; it is
// never rebuilt in place.
type Cache struct {
	store   storage.Store
	builder Builder

	group singleflight.Group

	mu   sync.RWMutex
	maps map[string]*AxonMap

	builds atomic.Int64
}

func NewCache(store storage.Store, builder Builder) *Cache {
	if builder == nil {
		builder = NewFiberBuilder()
	}
	return &Cache{
		store:   store,
		builder: builder,
		maps:    make(map[string]*AxonMap),
	}
}

// Get returns the axon map stored under name, building it for spec with
// the given decay length if it does not exist yet. Concurrent callers for
// the same name share a single load or build.
func (c *Cache) Get(ctx context.Context, name string, spec model.GridSpec, lambda float64) (*AxonMap, error) {
	if name == "" {
		return nil, errors.New("axon map name is required")
	}
	if err := grid.Validate(spec); err != nil {
		return nil, err
	}

	if m, ok := c.cached(name); ok {
		if err := m.CheckGrid(spec); err != nil {
			return nil, fmt.Errorf("axon map %s: %w", name, err)
		}
		return m, nil
	}

	// The shared load runs detached from any single caller so that one
	// cancelled caller does not fail the others waiting on the same name.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(name, func() (any, error) {
		if m, ok := c.cached(name); ok {
			return m, nil
		}
		m, err := c.load(detached, name, spec, lambda)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.maps[name] = m
		c.mu.Unlock()
		return m, nil
	})
	var v any
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		v = r.Val
	}

	m := v.(*AxonMap)
	if err := m.CheckGrid(spec); err != nil {
		return nil, fmt.Errorf("axon map %s: %w", name, err)
	}
	return m, nil
}

// Builds reports how many maps this cache has constructed.
func (c *Cache) Builds() int64 {
	return c.builds.Load()
}

// Forget drops name from memory; the persisted copy is untouched.
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.maps, name)
}

func (c *Cache) cached(name string) (*AxonMap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.maps[name]
	return m, ok
}

func (c *Cache) load(ctx context.Context, name string, spec model.GridSpec, lambda float64) (*AxonMap, error) {
	if c.store != nil {
		record, ok, err := c.store.GetAxonMap(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load axon map %s: %w", name, err)
		}
		if ok {
			return FromRecord(record)
		}
	}

	m, err := c.build(ctx, spec, lambda)
	if err != nil {
		return nil, fmt.Errorf("build axon map %s: %w", name, err)
	}
	if c.store != nil {
		if err := c.store.SaveAxonMap(ctx, m.Record(name, storage.Versioned())); err != nil {
			return nil, fmt.Errorf("save axon map %s: %w", name, err)
		}
	}
	return m, nil
}

func (c *Cache) build(ctx context.Context, spec model.GridSpec, lambda float64) (*AxonMap, error) {
	g, err := grid.New(spec)
	if err != nil {
		return nil, err
	}
	ids, weights, err := c.builder.Build(ctx, units.MicronsToDeg(g.X), units.MicronsToDeg(g.Y), g.Rows, g.Cols, lambda)
	if err != nil {
		return nil, err
	}
	c.builds.Add(1)
	return FromRagged(spec, lambda, ids, weights)
}
