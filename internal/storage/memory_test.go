package storage

import (
	"context"
	"reflect"
	"testing"
)

func TestMemoryStoreAxonMapRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := sampleAxonMap("axons")
	if err := store.SaveAxonMap(ctx, input); err != nil {
		t.Fatalf("save axon map: %v", err)
	}
	input.Weights[0] = 42

	output, ok, err := store.GetAxonMap(ctx, "axons")
	if err != nil {
		t.Fatalf("get axon map: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted axon map")
	}
	if output.Weights[0] != 1 {
		t.Fatalf("expected stored copy to be isolated from caller, got weight=%f", output.Weights[0])
	}

	if err := store.DeleteAxonMap(ctx, "axons"); err != nil {
		t.Fatalf("delete axon map: %v", err)
	}
	if _, ok, err := store.GetAxonMap(ctx, "axons"); err != nil || ok {
		t.Fatalf("expected deleted axon map, ok=%t err=%v", ok, err)
	}
}

func TestMemoryStorePerceptListOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	older := samplePercept("run-a", "2026-01-01T00:00:00Z")
	newer := samplePercept("run-b", "2026-02-01T00:00:00Z")
	if err := store.SavePercept(ctx, older); err != nil {
		t.Fatalf("save older: %v", err)
	}
	if err := store.SavePercept(ctx, newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	got, ok, err := store.GetPercept(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get percept: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, older) {
		t.Fatalf("percept mismatch: got=%+v want=%+v", got, older)
	}

	list, err := store.ListPercepts(ctx)
	if err != nil {
		t.Fatalf("list percepts: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "run-b" || list[1].RunID != "run-a" {
		t.Fatalf("unexpected list order: %+v", list)
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveAxonMap(context.Background(), sampleAxonMap("x")); err == nil {
		t.Fatal("expected uninitialized store error")
	}
}
