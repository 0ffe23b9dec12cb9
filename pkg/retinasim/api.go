package retinasim

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"

	"retinasim/internal/axonmap"
	"retinasim/internal/electrode"
	"retinasim/internal/model"
	"retinasim/internal/percept"
	"retinasim/internal/retina"
	"retinasim/internal/signal"
	"retinasim/internal/stats"
	"retinasim/internal/storage"
	"retinasim/internal/stimulus"
	"retinasim/internal/temporal"
)

const (
	defaultArtifactsDir = "percepts"
	defaultExportsDir   = "exports"
	defaultDBPath       = "retinasim.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	// Builder computes axon maps that are not yet persisted. Nil uses the
	// straight-fiber approximation.
	Builder axonmap.Builder
}

type Client struct {
	store storage.Store
	cache *axonmap.Cache

	artifactsDir string
	exportsDir   string
	initialized  bool
}

type AxonMapRequest struct {
	Name   string
	Grid   model.GridSpec
	Lambda float64
}

type AxonMapSummary struct {
	Name   string
	Grid   model.GridSpec
	Lambda float64
	Cells  int
	Pairs  int
	Memory datasize.ByteSize
	Builds int64
}

type ElectrodeRequest struct {
	Radius float64
	X      float64
	Y      float64

	// Zero Freq, Dur and PulseDur use the defaults. InterphaseDur and
	// Amplitude accept zero, so only nil selects the default.
	Freq          float64
	Dur           float64
	PulseDur      float64
	InterphaseDur *float64
	Delay         float64
	Amplitude     *float64
	Polarity      string
}

type SimulateRequest struct {
	AxonMap    string
	Grid       model.GridSpec
	AxonLambda float64
	Electrodes []ElectrodeRequest

	// Zero TSample, taus, Slope and N use the defaults since zero is never
	// valid for them. The remaining model parameters are pointers: nil
	// selects the default and any other value, zero included, is used.
	Method    string
	TSample   float64
	Tau1      float64
	Tau2      float64
	Tau3      float64
	E         *float64
	Asymptote *float64
	Slope     float64
	Shift     *float64

	Alpha *float64
	N     float64

	Cells      []percept.Cell
	Workers    int
	KeepSeries bool
	Threshold  float64
}

// Float64 returns a pointer to v for the optional request fields.
func Float64(v float64) *float64 {
	return &v
}

type SimulateSummary struct {
	RunID        string
	ArtifactsDir string
	Samples      int
	Duration     time.Duration
	Peaks        stats.PeakSummary
	Elapsed      time.Duration
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	AxonMap      string
	Electrodes   int
	Cells        int
	Method       string
	MaxPeak      float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		cache:        axonmap.NewCache(store, opts.Builder),
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// AxonMap loads or builds the named axon map and reports its size.
func (c *Client) AxonMap(ctx context.Context, req AxonMapRequest) (AxonMapSummary, error) {
	if req.Name == "" {
		req.Name = retina.DefaultAxonMapName
	}
	if req.Grid == (model.GridSpec{}) {
		req.Grid = model.DefaultGridSpec()
	}
	if req.Lambda <= 0 {
		req.Lambda = retina.DefaultAxonLambda
	}
	if err := c.Init(ctx); err != nil {
		return AxonMapSummary{}, err
	}

	m, err := c.cache.Get(ctx, req.Name, req.Grid, req.Lambda)
	if err != nil {
		return AxonMapSummary{}, err
	}
	return AxonMapSummary{
		Name:   req.Name,
		Grid:   m.Grid,
		Lambda: m.Lambda,
		Cells:  m.Cells(),
		Pairs:  len(m.Pairs),
		Memory: axonMapSize(m),
		Builds: c.cache.Builds(),
	}, nil
}

// DeleteAxonMap drops a persisted axon map so the next request rebuilds it.
func (c *Client) DeleteAxonMap(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("axon map name is required")
	}
	if err := c.Init(ctx); err != nil {
		return err
	}
	c.cache.Forget(name)
	return c.store.DeleteAxonMap(ctx, name)
}

func (c *Client) Simulate(ctx context.Context, req SimulateRequest) (SimulateSummary, error) {
	started := time.Now()
	if len(req.Electrodes) == 0 {
		return SimulateSummary{}, errors.New("at least one electrode is required")
	}
	if req.AxonMap == "" {
		req.AxonMap = retina.DefaultAxonMapName
	}
	if req.Grid == (model.GridSpec{}) {
		req.Grid = model.DefaultGridSpec()
	}
	if req.AxonLambda <= 0 {
		req.AxonLambda = retina.DefaultAxonLambda
	}
	if req.Threshold < 0 {
		return SimulateSummary{}, errors.New("threshold must be >= 0")
	}

	m, err := cascadeModel(req)
	if err != nil {
		return SimulateSummary{}, err
	}
	cascade, err := m.Compile()
	if err != nil {
		return SimulateSummary{}, err
	}

	falloff := electrode.DefaultFalloff()
	if req.Alpha != nil {
		if *req.Alpha < 0 {
			return SimulateSummary{}, errors.New("alpha must be >= 0")
		}
		falloff.Alpha = *req.Alpha
	}
	if req.N > 0 {
		falloff.N = req.N
	}

	electrodes := make([]electrode.Electrode, 0, len(req.Electrodes))
	stimuli := make([]signal.TimeSeries, 0, len(req.Electrodes))
	configs := make([]stats.ElectrodeConfig, 0, len(req.Electrodes))
	for k, er := range req.Electrodes {
		e, err := electrode.New(er.Radius, er.X, er.Y)
		if err != nil {
			return SimulateSummary{}, fmt.Errorf("electrode %d: %w", k, err)
		}
		spec, err := pulseTrainSpec(er, m.Fs)
		if err != nil {
			return SimulateSummary{}, fmt.Errorf("electrode %d: %w", k, err)
		}
		ts, err := stimulus.PulseTrain(spec)
		if err != nil {
			return SimulateSummary{}, fmt.Errorf("electrode %d: %w", k, err)
		}
		electrodes = append(electrodes, e)
		stimuli = append(stimuli, ts)
		configs = append(configs, stats.ElectrodeConfig{
			Radius:    e.Radius,
			X:         e.X,
			Y:         e.Y,
			Freq:      spec.Freq,
			Amplitude: spec.Amplitude,
			PulseDur:  spec.PulseDur,
			Polarity:  spec.Polarity.String(),
		})
	}

	if err := c.Init(ctx); err != nil {
		return SimulateSummary{}, err
	}
	r, err := retina.Load(ctx, c.cache, req.AxonMap, req.Grid, req.AxonLambda)
	if err != nil {
		return SimulateSummary{}, err
	}
	sim, err := percept.NewSimulator(percept.Config{Retina: r, Cascade: cascade, Falloff: falloff, Workers: req.Workers})
	if err != nil {
		return SimulateSummary{}, err
	}
	res, err := sim.Run(ctx, percept.Request{
		Array:      electrode.ArrayOf(electrodes...),
		Stimuli:    stimuli,
		Cells:      req.Cells,
		KeepSeries: req.KeepSeries,
	})
	if err != nil {
		return SimulateSummary{}, err
	}

	now := time.Now().UTC()
	runID := uuid.NewString()
	record := sim.Summarize(runID, req.AxonMap, now, len(electrodes), res)

	peaks := make([]float64, len(res.Cells))
	var series []stats.CellSeries
	for n, cell := range res.Cells {
		peaks[n] = cell.Peak
		if req.KeepSeries {
			series = append(series, stats.CellSeries{I: cell.I, J: cell.J, Brightness: cell.Brightness.Data})
		}
	}
	summary := stats.SummarizePeaks(peaks, req.Threshold)

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.PerceptArtifacts{
		Config: stats.RunConfig{
			RunID:      runID,
			AxonMap:    req.AxonMap,
			Grid:       req.Grid,
			AxonLambda: req.AxonLambda,
			Electrodes: configs,
			Method:     m.Method.String(),
			TSample:    m.Fs,
			Duration:   float64(res.Samples) * m.Fs,
			Tau1:       m.Tau1,
			Tau2:       m.Tau2,
			Tau3:       m.Tau3,
			E:          m.E,
			Asymptote:  m.Asymptote,
			Slope:      m.Slope,
			Shift:      m.Shift,
			Alpha:      falloff.Alpha,
			N:          falloff.N,
			Workers:    req.Workers,
		},
		Summary: summary,
		PeakMap: res.PeakMap,
		Series:  series,
	})
	if err != nil {
		return SimulateSummary{}, c.discardRun(runID, err)
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        runID,
		AxonMap:      req.AxonMap,
		Electrodes:   len(electrodes),
		Cells:        len(res.Cells),
		Method:       record.Method,
		MaxPeak:      record.MaxPeak,
		CreatedAtUTC: record.CreatedAtUTC,
	}); err != nil {
		return SimulateSummary{}, c.discardRun(runID, err)
	}
	// The stored record goes last so every listed run has its artifacts.
	if err := c.store.SavePercept(ctx, record); err != nil {
		return SimulateSummary{}, c.discardRun(runID, err)
	}

	return SimulateSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Samples:      res.Samples,
		Duration:     time.Duration(float64(res.Samples) * m.Fs * float64(time.Second)),
		Peaks:        summary,
		Elapsed:      time.Since(started),
	}, nil
}

func (c *Client) discardRun(runID string, cause error) error {
	if err := stats.RemoveRunArtifacts(c.artifactsDir, runID); err != nil {
		return errors.Join(cause, fmt.Errorf("discard run %s: %w", runID, err))
	}
	return cause
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.ListPercepts(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > req.Limit {
		records = records[:req.Limit]
	}

	out := make([]RunItem, 0, len(records))
	for _, r := range records {
		out = append(out, RunItem{
			RunID:        r.RunID,
			CreatedAtUTC: r.CreatedAtUTC,
			AxonMap:      r.AxonMap,
			Electrodes:   r.Electrodes,
			Cells:        len(r.Cells),
			Method:       r.Method,
			MaxPeak:      r.MaxPeak,
		})
	}
	return out, nil
}

// Percept returns the stored summary of one run; latest selects the newest.
func (c *Client) Percept(ctx context.Context, runID string, latest bool) (model.PerceptRecord, error) {
	if runID != "" && latest {
		return model.PerceptRecord{}, errors.New("use either run id or latest")
	}
	if err := c.Init(ctx); err != nil {
		return model.PerceptRecord{}, err
	}
	if latest {
		records, err := c.store.ListPercepts(ctx)
		if err != nil {
			return model.PerceptRecord{}, err
		}
		if len(records) == 0 {
			return model.PerceptRecord{}, errors.New("no runs available")
		}
		return records[0], nil
	}
	if runID == "" {
		return model.PerceptRecord{}, errors.New("percept requires run id or latest")
	}
	record, ok, err := c.store.GetPercept(ctx, runID)
	if err != nil {
		return model.PerceptRecord{}, err
	}
	if !ok {
		return model.PerceptRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return record, nil
}

// PeakSummary reads the peak statistics written with a run's artifacts.
func (c *Client) PeakSummary(_ context.Context, runID string) (stats.PeakSummary, bool, error) {
	if runID == "" {
		return stats.PeakSummary{}, false, errors.New("run id is required")
	}
	return stats.ReadSummary(c.artifactsDir, runID)
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func cascadeModel(req SimulateRequest) (temporal.Model, error) {
	m := temporal.DefaultModel()
	if req.Method != "" {
		method, err := signal.ParseMethod(req.Method)
		if err != nil {
			return temporal.Model{}, err
		}
		m.Method = method
	}
	nonZero := []struct {
		dst *float64
		v   float64
	}{
		{&m.Fs, req.TSample},
		{&m.Tau1, req.Tau1},
		{&m.Tau2, req.Tau2},
		{&m.Tau3, req.Tau3},
		{&m.Slope, req.Slope},
	}
	for _, o := range nonZero {
		if o.v != 0 {
			*o.dst = o.v
		}
	}
	optional := []struct {
		dst *float64
		v   *float64
	}{
		{&m.E, req.E},
		{&m.Asymptote, req.Asymptote},
		{&m.Shift, req.Shift},
	}
	for _, o := range optional {
		if o.v != nil {
			*o.dst = *o.v
		}
	}
	return m, m.Validate()
}

func pulseTrainSpec(er ElectrodeRequest, tsample float64) (stimulus.PulseTrainSpec, error) {
	spec := stimulus.DefaultPulseTrain()
	spec.TSample = tsample
	if er.Freq > 0 {
		spec.Freq = er.Freq
	}
	if er.Dur > 0 {
		spec.Dur = er.Dur
	}
	if er.PulseDur > 0 {
		spec.PulseDur = er.PulseDur
	}
	if er.InterphaseDur != nil {
		spec.InterphaseDur = *er.InterphaseDur
	}
	if er.Amplitude != nil {
		spec.Amplitude = *er.Amplitude
	}
	spec.Delay = er.Delay
	polarity, err := stimulus.ParsePolarity(er.Polarity)
	if err != nil {
		return stimulus.PulseTrainSpec{}, err
	}
	spec.Polarity = polarity
	return spec, nil
}

func axonMapSize(m *axonmap.AxonMap) datasize.ByteSize {
	const intSize, pairSize = 8, 16
	return datasize.ByteSize(intSize*len(m.Offsets) + pairSize*len(m.Pairs))
}
