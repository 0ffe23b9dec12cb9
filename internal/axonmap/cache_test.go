package axonmap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"retinasim/internal/model"
	"retinasim/internal/storage"
)

func newMemoryStore(t *testing.T) storage.Store {
	t.Helper()
	store := storage.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}

func TestCacheBuildsOncePerName(t *testing.T) {
	store := newMemoryStore(t)
	release := make(chan struct{})
	calls := 0
	var mu sync.Mutex
	builder := BuilderFunc(func(ctx context.Context, xdeg, ydeg []float64, rows, cols int, lambda float64) ([][]int, [][]float64, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return NewFiberBuilder().Build(ctx, xdeg, ydeg, rows, cols, lambda)
	})
	cache := NewCache(store, builder)

	const callers = 8
	results := make([]*AxonMap, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = cache.Get(context.Background(), "axons", smallSpec, 2)
		}(n)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for n := 0; n < callers; n++ {
		if errs[n] != nil {
			t.Fatalf("caller %d: %v", n, errs[n])
		}
		if results[n] != results[0] {
			t.Fatalf("caller %d received a different map instance", n)
		}
	}
	if calls != 1 || cache.Builds() != 1 {
		t.Fatalf("expected exactly one build, builder calls=%d builds=%d", calls, cache.Builds())
	}
	if _, ok, err := store.GetAxonMap(context.Background(), "axons"); err != nil || !ok {
		t.Fatalf("expected built map to be persisted, ok=%t err=%v", ok, err)
	}
}

func TestCacheReusesPersistedMap(t *testing.T) {
	store := newMemoryStore(t)
	first := NewCache(store, nil)
	if _, err := first.Get(context.Background(), "axons", smallSpec, 2); err != nil {
		t.Fatalf("first get: %v", err)
	}

	failing := BuilderFunc(func(context.Context, []float64, []float64, int, int, float64) ([][]int, [][]float64, error) {
		return nil, nil, errors.New("builder must not run")
	})
	second := NewCache(store, failing)
	m, err := second.Get(context.Background(), "axons", smallSpec, 2)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if m.Cells() != 32 || second.Builds() != 0 {
		t.Fatalf("expected persisted map reuse, cells=%d builds=%d", m.Cells(), second.Builds())
	}
}

func TestCachePersistedGridMismatchIsFatal(t *testing.T) {
	store := newMemoryStore(t)
	if _, err := NewCache(store, nil).Get(context.Background(), "axons", smallSpec, 2); err != nil {
		t.Fatalf("seed: %v", err)
	}

	other := smallSpec
	other.Sampling = 20
	cache := NewCache(store, nil)
	if _, err := cache.Get(context.Background(), "axons", other, 2); !errors.Is(err, ErrGridMismatch) {
		t.Fatalf("expected ErrGridMismatch, got %v", err)
	}
	if cache.Builds() != 0 {
		t.Fatalf("mismatch must not trigger a rebuild, builds=%d", cache.Builds())
	}
	record, _, err := store.GetAxonMap(context.Background(), "axons")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Grid != smallSpec {
		t.Fatalf("persisted map was overwritten: %s", record.Grid)
	}
}

func TestCacheMemoryGridMismatchIsFatal(t *testing.T) {
	cache := NewCache(nil, nil)
	if _, err := cache.Get(context.Background(), "axons", smallSpec, 2); err != nil {
		t.Fatalf("seed: %v", err)
	}
	other := smallSpec
	other.XLo = -125
	if _, err := cache.Get(context.Background(), "axons", other, 2); !errors.Is(err, ErrGridMismatch) {
		t.Fatalf("expected ErrGridMismatch, got %v", err)
	}

	cache.Forget("axons")
	if _, err := cache.Get(context.Background(), "axons", other, 2); err != nil {
		t.Fatalf("expected rebuild after forget without store: %v", err)
	}
	if cache.Builds() != 2 {
		t.Fatalf("unexpected build count: %d", cache.Builds())
	}
}

func TestCacheRejectsBadRequests(t *testing.T) {
	cache := NewCache(nil, nil)
	if _, err := cache.Get(context.Background(), "", smallSpec, 2); err == nil {
		t.Fatal("expected name error")
	}
	if _, err := cache.Get(context.Background(), "axons", model.GridSpec{Sampling: 1}, 2); err == nil {
		t.Fatal("expected grid validation error")
	}
	if _, err := cache.Get(context.Background(), "axons", smallSpec, -1); err == nil {
		t.Fatal("expected builder lambda error")
	}
}

func TestCacheBuildSurvivesCancelledCaller(t *testing.T) {
	store := newMemoryStore(t)
	started := make(chan struct{})
	release := make(chan struct{})
	builder := BuilderFunc(func(ctx context.Context, xdeg, ydeg []float64, rows, cols int, lambda float64) ([][]int, [][]float64, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		return NewFiberBuilder().Build(ctx, xdeg, ydeg, rows, cols, lambda)
	})
	cache := NewCache(store, builder)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctxA, "axons", smallSpec, 2)
		errA <- err
	}()
	<-started

	type result struct {
		m   *AxonMap
		err error
	}
	resB := make(chan result, 1)
	go func() {
		m, err := cache.Get(context.Background(), "axons", smallSpec, 2)
		resB <- result{m, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: got=%v want=%v", err, context.Canceled)
	}
	close(release)

	got := <-resB
	if got.err != nil {
		t.Fatalf("waiting caller failed: %v", got.err)
	}
	if err := got.m.CheckGrid(smallSpec); err != nil {
		t.Fatalf("unexpected map for waiting caller: %v", err)
	}
	if cache.Builds() != 1 {
		t.Fatalf("expected one build, got=%d", cache.Builds())
	}
}
