package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"retinasim/internal/electrode"
	"retinasim/internal/model"
	"retinasim/internal/retina"
	"retinasim/internal/stimulus"
	"retinasim/internal/storage"
	"retinasim/internal/temporal"
	rsapi "retinasim/pkg/retinasim"
)

const (
	artifactsDir = "percepts"
	exportsDir   = "exports"
	defaultDB    = "retinasim.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "axonmap":
		return runAxonMap(ctx, args[1:])
	case "simulate":
		return runSimulate(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type storeFlags struct {
	kind         *string
	dbPath       *string
	artifactsDir *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		kind:         fs.String("store", storage.DefaultStoreKind(), "store backend: "+strings.Join(storage.StoreKinds(), "|")),
		dbPath:       fs.String("db-path", defaultDB, "sqlite database path"),
		artifactsDir: fs.String("artifacts-dir", artifactsDir, "percept artifact directory"),
	}
}

func (f storeFlags) client() (*rsapi.Client, error) {
	return rsapi.New(rsapi.Options{
		StoreKind:    *f.kind,
		DBPath:       *f.dbPath,
		ArtifactsDir: *f.artifactsDir,
		ExportsDir:   exportsDir,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *sf.kind)
	return nil
}

func addGridFlags(fs *flag.FlagSet) *model.GridSpec {
	def := model.DefaultGridSpec()
	spec := &model.GridSpec{}
	fs.Float64Var(&spec.XLo, "xlo", def.XLo, "grid lower x bound in microns (inclusive)")
	fs.Float64Var(&spec.XHi, "xhi", def.XHi, "grid upper x bound in microns (exclusive)")
	fs.Float64Var(&spec.YLo, "ylo", def.YLo, "grid lower y bound in microns (inclusive)")
	fs.Float64Var(&spec.YHi, "yhi", def.YHi, "grid upper y bound in microns (exclusive)")
	fs.Float64Var(&spec.Sampling, "sampling", def.Sampling, "grid spacing in microns")
	return spec
}

func runAxonMap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("axonmap", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	name := fs.String("name", retina.DefaultAxonMapName, "axon map name")
	lambda := fs.Float64("lambda", retina.DefaultAxonLambda, "axonal decay constant")
	del := fs.Bool("delete", false, "drop the persisted map instead of loading it")
	spec := addGridFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *del {
		if err := client.DeleteAxonMap(ctx, *name); err != nil {
			return err
		}
		fmt.Printf("deleted axon_map=%s\n", *name)
		return nil
	}

	summary, err := client.AxonMap(ctx, rsapi.AxonMapRequest{Name: *name, Grid: *spec, Lambda: *lambda})
	if err != nil {
		return err
	}
	fmt.Printf("axon_map=%s grid=%s lambda=%g cells=%s pairs=%s memory=%s builds=%d\n",
		summary.Name,
		summary.Grid,
		summary.Lambda,
		humanize.Comma(int64(summary.Cells)),
		humanize.Comma(int64(summary.Pairs)),
		summary.Memory.HumanReadable(),
		summary.Builds,
	)
	return nil
}

func runSimulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	m := temporal.DefaultModel()
	pulse := stimulus.DefaultPulseTrain()
	falloff := electrode.DefaultFalloff()

	configPath := fs.String("config", "", "optional simulation config JSON path")
	axonMap := fs.String("axon-map", retina.DefaultAxonMapName, "axon map name")
	lambda := fs.Float64("lambda", retina.DefaultAxonLambda, "axonal decay constant")
	spec := addGridFlags(fs)
	electrodes := fs.String("electrodes", "0:0:260", "electrodes as x:y:radius in microns, comma separated")
	cells := fs.String("cells", "", "cells to evaluate as i:j, comma separated (empty evaluates the whole grid)")
	freq := fs.Float64("freq", pulse.Freq, "pulse train frequency in Hz")
	dur := fs.Float64("dur", pulse.Dur, "stimulus duration in seconds")
	pulseDur := fs.Float64("pulse-dur", pulse.PulseDur, "single phase duration in seconds")
	interphaseDur := fs.Float64("interphase-dur", pulse.InterphaseDur, "interphase gap in seconds")
	delay := fs.Float64("delay", 0, "delay before the first pulse in seconds")
	amp := fs.Float64("amp", pulse.Amplitude, "pulse amplitude in microamps")
	polarity := fs.String("polarity", pulse.Polarity.String(), "pulse polarity: cathodicfirst|anodicfirst")
	method := fs.String("method", m.Method.String(), "convolution method: direct|fft|sparse")
	tsample := fs.Float64("tsample", m.Fs, "sampling interval in seconds")
	tau1 := fs.Float64("tau1", m.Tau1, "fast integrator time constant in seconds")
	tau2 := fs.Float64("tau2", m.Tau2, "charge accumulation time constant in seconds")
	tau3 := fs.Float64("tau3", m.Tau3, "slow integrator time constant in seconds")
	epsilon := fs.Float64("epsilon", m.E, "charge accumulation scaling")
	asymptote := fs.Float64("asymptote", m.Asymptote, "sigmoid asymptote")
	slope := fs.Float64("slope", m.Slope, "sigmoid slope")
	shift := fs.Float64("shift", m.Shift, "sigmoid shift")
	alpha := fs.Float64("alpha", falloff.Alpha, "current fall-off alpha")
	n := fs.Float64("n", falloff.N, "current fall-off exponent")
	workers := fs.Int("workers", 0, "parallel cell workers (0 uses GOMAXPROCS)")
	series := fs.Bool("series", false, "write per-cell brightness series")
	threshold := fs.Float64("threshold", 0, "peak brightness counted as a bright cell")
	jsonOut := fs.Bool("json", false, "emit summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	setFlags := make(map[string]bool)
	if *configPath == "" {
		fs.VisitAll(func(f *flag.Flag) {
			setFlags[f.Name] = true
		})
	} else {
		fs.Visit(func(f *flag.Flag) {
			setFlags[f.Name] = true
		})
	}

	req, err := loadOrDefaultSimulateRequest(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&req, setFlags, map[string]any{
		"axon-map":       *axonMap,
		"lambda":         *lambda,
		"xlo":            spec.XLo,
		"xhi":            spec.XHi,
		"ylo":            spec.YLo,
		"yhi":            spec.YHi,
		"sampling":       spec.Sampling,
		"electrodes":     *electrodes,
		"cells":          *cells,
		"freq":           *freq,
		"dur":            *dur,
		"pulse-dur":      *pulseDur,
		"interphase-dur": *interphaseDur,
		"delay":          *delay,
		"amp":            *amp,
		"polarity":       *polarity,
		"method":         *method,
		"tsample":        *tsample,
		"tau1":           *tau1,
		"tau2":           *tau2,
		"tau3":           *tau3,
		"epsilon":        *epsilon,
		"asymptote":      *asymptote,
		"slope":          *slope,
		"shift":          *shift,
		"alpha":          *alpha,
		"n":              *n,
		"workers":        *workers,
		"series":         *series,
		"threshold":      *threshold,
	}); err != nil {
		return err
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Simulate(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	fmt.Printf("run_id=%s cells=%s bright=%s samples=%s duration=%s max_peak=%.6f mean_peak=%.6f std_peak=%.6f elapsed=%s artifacts=%s\n",
		summary.RunID,
		humanize.Comma(int64(summary.Peaks.Cells)),
		humanize.Comma(int64(summary.Peaks.Bright)),
		humanize.Comma(int64(summary.Samples)),
		summary.Duration,
		summary.Peaks.Max,
		summary.Peaks.Mean,
		summary.Peaks.Std,
		summary.Elapsed.Round(time.Millisecond),
		summary.ArtifactsDir,
	)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, rsapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s axon_map=%s electrodes=%d cells=%s method=%s max_peak=%.6f\n",
			item.RunID,
			item.CreatedAtUTC,
			item.AxonMap,
			item.Electrodes,
			humanize.Comma(int64(item.Cells)),
			item.Method,
			item.MaxPeak,
		)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run")
	top := fs.Int("top", 10, "brightest cells to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("show requires --run-id or --latest")
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	record, err := client.Percept(ctx, *runID, *latest)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s created_at=%s axon_map=%s grid=%s electrodes=%d method=%s tsample=%g samples=%s max_peak=%.6f\n",
		record.RunID,
		record.CreatedAtUTC,
		record.AxonMap,
		record.Grid,
		record.Electrodes,
		record.Method,
		record.TSample,
		humanize.Comma(int64(record.Samples)),
		record.MaxPeak,
	)
	peaks, ok, err := client.PeakSummary(ctx, record.RunID)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("peaks cells=%s bright=%s threshold=%g mean=%.6f std=%.6f min=%.6f max=%.6f\n",
			humanize.Comma(int64(peaks.Cells)),
			humanize.Comma(int64(peaks.Bright)),
			peaks.Threshold,
			peaks.Mean,
			peaks.Std,
			peaks.Min,
			peaks.Max,
		)
	}
	for _, c := range brightest(record.Cells, *top) {
		fmt.Printf("cell i=%d j=%d peak=%.6f\n", c.I, c.J, c.Peak)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := sf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, rsapi.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

// brightest returns up to n cells in decreasing peak order.
func brightest(cells []model.CellPeak, n int) []model.CellPeak {
	out := append([]model.CellPeak(nil), cells...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Peak > out[j].Peak
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: retinasimctl <init|axonmap|simulate|runs|show|export> [flags]", msg)
}
