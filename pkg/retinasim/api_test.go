package retinasim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"retinasim/internal/axonmap"
	"retinasim/internal/model"
	"retinasim/internal/percept"
	"retinasim/internal/stats"
	"retinasim/internal/storage"
)

var smallGrid = model.GridSpec{XLo: -200, XHi: 200, YLo: -100, YHi: 100, Sampling: 25}

func newTestClient(t *testing.T, builder axonmap.Builder) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "percepts"),
		ExportsDir:   filepath.Join(base, "exports"),
		Builder:      builder,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func smallRequest() SimulateRequest {
	return SimulateRequest{
		Grid:    smallGrid,
		TSample: 0.1 / 1000,
		Electrodes: []ElectrodeRequest{
			{Radius: 100, X: -50, Y: 0, Freq: 50, Dur: 0.04, PulseDur: 0.1 / 1000, Amplitude: Float64(60)},
			{Radius: 50, X: 100, Y: 25, Freq: 50, Dur: 0.04, PulseDur: 0.1 / 1000, Amplitude: Float64(30), Polarity: "anodic"},
		},
		Workers:    2,
		KeepSeries: true,
		Cells:      []percept.Cell{{I: 6, J: 4}, {I: 0, J: 0}, {I: 12, J: 5}},
	}
}

func TestClientSimulateRunsAndExport(t *testing.T) {
	client, base := newTestClient(t, nil)
	ctx := context.Background()

	summary, err := client.Simulate(ctx, smallRequest())
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("expected run id")
	}
	if summary.Samples != 400 || summary.Peaks.Cells != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Peaks.Max <= 0 {
		t.Fatalf("expected a bright cell, got %+v", summary.Peaks)
	}
	if _, err := os.Stat(filepath.Join(summary.ArtifactsDir, "brightness.csv")); err != nil {
		t.Fatalf("expected brightness series: %v", err)
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].Cells != 3 || runs[0].Electrodes != 2 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	record, err := client.Percept(ctx, "", true)
	if err != nil {
		t.Fatalf("latest percept: %v", err)
	}
	if record.RunID != summary.RunID || record.MaxPeak != summary.Peaks.Max || record.Grid != smallGrid {
		t.Fatalf("unexpected percept record: %+v", record)
	}
	if record.Method != "fft" || record.TSample != 0.1/1000 {
		t.Fatalf("unexpected model metadata: method=%s tsample=%g", record.Method, record.TSample)
	}

	cfg, ok, err := stats.ReadRunConfig(filepath.Join(base, "percepts"), summary.RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if len(cfg.Electrodes) != 2 || cfg.Electrodes[1].Polarity != "anodicfirst" {
		t.Fatalf("unexpected electrode config: %+v", cfg.Electrodes)
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.RunID != summary.RunID {
		t.Fatalf("unexpected exported run: %s", exported.RunID)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, "peak_map.csv")); err != nil {
		t.Fatalf("expected exported peak map: %v", err)
	}

	peaks, ok, err := client.PeakSummary(ctx, summary.RunID)
	if err != nil || !ok {
		t.Fatalf("peak summary: ok=%t err=%v", ok, err)
	}
	if peaks != summary.Peaks {
		t.Fatalf("unexpected peak summary: got=%+v want=%+v", peaks, summary.Peaks)
	}
	if _, ok, err := client.PeakSummary(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing peak summary, ok=%t err=%v", ok, err)
	}
}

func TestClientReusesAxonMap(t *testing.T) {
	var builds atomic.Int32
	builder := axonmap.BuilderFunc(func(ctx context.Context, xdeg, ydeg []float64, rows, cols int, lambda float64) ([][]int, [][]float64, error) {
		builds.Add(1)
		return axonmap.NewFiberBuilder().Build(ctx, xdeg, ydeg, rows, cols, lambda)
	})
	client, _ := newTestClient(t, builder)
	ctx := context.Background()

	first, err := client.AxonMap(ctx, AxonMapRequest{Name: "small", Grid: smallGrid})
	if err != nil {
		t.Fatalf("axon map: %v", err)
	}
	if first.Cells != 128 || first.Pairs < first.Cells || first.Memory == 0 {
		t.Fatalf("unexpected axon map summary: %+v", first)
	}

	req := smallRequest()
	req.AxonMap = "small"
	req.Cells = req.Cells[:1]
	if _, err := client.Simulate(ctx, req); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if got := builds.Load(); got != 1 {
		t.Fatalf("expected one build, got=%d", got)
	}

	other := smallGrid
	other.Sampling = 50
	if _, err := client.AxonMap(ctx, AxonMapRequest{Name: "small", Grid: other}); !errors.Is(err, axonmap.ErrGridMismatch) {
		t.Fatalf("expected ErrGridMismatch, got %v", err)
	}

	if err := client.DeleteAxonMap(ctx, "small"); err != nil {
		t.Fatalf("delete axon map: %v", err)
	}
	if _, err := client.AxonMap(ctx, AxonMapRequest{Name: "small", Grid: other}); err != nil {
		t.Fatalf("axon map after delete: %v", err)
	}
	if got := builds.Load(); got != 2 {
		t.Fatalf("expected rebuild after delete, got=%d", got)
	}
}

func TestClientSimulateHonoursZeroParameters(t *testing.T) {
	client, base := newTestClient(t, nil)
	ctx := context.Background()

	baseline, err := client.Simulate(ctx, smallRequest())
	if err != nil {
		t.Fatalf("baseline simulate: %v", err)
	}

	req := smallRequest()
	req.E = Float64(0)
	req.Shift = Float64(0)
	req.Electrodes[0].InterphaseDur = Float64(0)
	summary, err := client.Simulate(ctx, req)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	cfg, ok, err := stats.ReadRunConfig(filepath.Join(base, "percepts"), summary.RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if cfg.E != 0 || cfg.Shift != 0 {
		t.Fatalf("unexpected recorded model: got E=%g Shift=%g want 0 and 0", cfg.E, cfg.Shift)
	}
	if summary.Peaks.Max == baseline.Peaks.Max {
		t.Fatalf("expected zero parameters to change the percept, both max=%g", summary.Peaks.Max)
	}

	defaults, ok, err := stats.ReadRunConfig(filepath.Join(base, "percepts"), baseline.RunID)
	if err != nil || !ok {
		t.Fatalf("read baseline config: ok=%t err=%v", ok, err)
	}
	if defaults.E == 0 || defaults.Shift == 0 {
		t.Fatalf("expected nil parameters to use defaults, got E=%g Shift=%g", defaults.E, defaults.Shift)
	}
}

func TestClientSimulateValidation(t *testing.T) {
	client, _ := newTestClient(t, nil)
	ctx := context.Background()

	if _, err := client.Simulate(ctx, SimulateRequest{}); err == nil {
		t.Fatal("expected missing electrode error")
	}

	req := smallRequest()
	req.Method = "wavelet"
	if _, err := client.Simulate(ctx, req); err == nil {
		t.Fatal("expected method error")
	}

	req = smallRequest()
	req.Electrodes[1].Dur = 0.02
	if _, err := client.Simulate(ctx, req); err == nil {
		t.Fatal("expected stimulus length mismatch")
	}

	req = smallRequest()
	req.Electrodes[0].Radius = -1
	if _, err := client.Simulate(ctx, req); err == nil {
		t.Fatal("expected electrode radius error")
	}

	if _, err := client.Percept(ctx, "", true); err == nil {
		t.Fatal("expected no runs error")
	}
	if _, err := client.Percept(ctx, "nope", false); err == nil {
		t.Fatal("expected missing run error")
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected export selector error")
	}
}

type failingPerceptStore struct {
	storage.Store
}

func (failingPerceptStore) SavePercept(context.Context, model.PerceptRecord) error {
	return errors.New("disk full")
}

func TestClientSimulateDiscardsArtifactsWhenSaveFails(t *testing.T) {
	client, base := newTestClient(t, nil)
	ctx := context.Background()
	if err := client.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	client.store = failingPerceptStore{Store: client.store}

	if _, err := client.Simulate(ctx, smallRequest()); err == nil {
		t.Fatal("expected save failure")
	}

	entries, err := stats.ListRunIndex(filepath.Join(base, "percepts"))
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no indexed runs, got=%+v", entries)
	}
	dirs, err := os.ReadDir(filepath.Join(base, "percepts"))
	if err != nil {
		t.Fatalf("read artifacts dir: %v", err)
	}
	for _, d := range dirs {
		if d.IsDir() {
			t.Fatalf("expected run directory to be removed, found %s", d.Name())
		}
	}
	if _, err := client.Percept(ctx, "", true); err == nil {
		t.Fatal("expected no stored runs")
	}
}
