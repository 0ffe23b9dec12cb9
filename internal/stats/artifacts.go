package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"retinasim/internal/grid"
	"retinasim/internal/model"
)

const runIndexFile = "run_index.json"

type ElectrodeConfig struct {
	Radius    float64 `json:"radius"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Freq      float64 `json:"freq"`
	Amplitude float64 `json:"amplitude"`
	PulseDur  float64 `json:"pulse_dur"`
	Polarity  string  `json:"polarity"`
}

type RunConfig struct {
	RunID      string            `json:"run_id"`
	AxonMap    string            `json:"axon_map"`
	Grid       model.GridSpec    `json:"grid"`
	AxonLambda float64           `json:"axon_lambda"`
	Electrodes []ElectrodeConfig `json:"electrodes"`
	Method     string            `json:"method"`
	TSample    float64           `json:"tsample"`
	Duration   float64           `json:"duration"`
	Tau1       float64           `json:"tau1"`
	Tau2       float64           `json:"tau2"`
	Tau3       float64           `json:"tau3"`
	E          float64           `json:"e"`
	Asymptote  float64           `json:"asymptote"`
	Slope      float64           `json:"slope"`
	Shift      float64           `json:"shift"`
	Alpha      float64           `json:"alpha"`
	N          float64           `json:"n"`
	Workers    int               `json:"workers"`
}

// CellSeries is the brightness of one grid cell over time.
type CellSeries struct {
	I          int
	J          int
	Brightness []float64
}

type PerceptArtifacts struct {
	Config  RunConfig
	Summary PeakSummary
	PeakMap grid.Map
	Series  []CellSeries
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	AxonMap      string  `json:"axon_map"`
	Electrodes   int     `json:"electrodes"`
	Cells        int     `json:"cells"`
	Method       string  `json:"method"`
	MaxPeak      float64 `json:"max_peak"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts PerceptArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	if err := WritePeakMap(runDir, artifacts.PeakMap); err != nil {
		return "", err
	}
	if len(artifacts.Series) > 0 {
		if err := WriteBrightnessSeries(runDir, artifacts.Config.TSample, artifacts.Series); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// RemoveRunArtifacts deletes the run directory and its index entry. A run
// that was never written is not an error.
func RemoveRunArtifacts(baseDir, runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.RemoveAll(filepath.Join(baseDir, runID)); err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.RunID != runID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return writeJSON(filepath.Join(baseDir, runIndexFile), kept)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies the artifacts of runID into outDir/runID.
// brightness.csv is optional.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "summary.json", "peak_map.csv"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	seriesPath := filepath.Join(src, "brightness.csv")
	if _, err := os.Stat(seriesPath); err == nil {
		if err := copyFile(seriesPath, filepath.Join(dst, "brightness.csv")); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func ReadSummary(baseDir, runID string) (PeakSummary, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "summary.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return PeakSummary{}, false, nil
		}
		return PeakSummary{}, false, err
	}
	var summary PeakSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return PeakSummary{}, false, err
	}
	return summary, true, nil
}

// WritePeakMap writes one CSV line per grid row, columns in increasing x.
func WritePeakMap(runDir string, m grid.Map) error {
	file, err := os.Create(filepath.Join(runDir, "peak_map.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	row := make([]string, m.Cols)
	for j := 0; j < m.Rows; j++ {
		for i := 0; i < m.Cols; i++ {
			row[i] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadPeakMap(baseDir, runID string) (grid.Map, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, "peak_map.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return grid.Map{}, false, nil
		}
		return grid.Map{}, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	var data []float64
	rows, cols := 0, 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return grid.Map{}, false, err
		}
		if rows == 0 {
			cols = len(record)
		}
		for _, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return grid.Map{}, false, fmt.Errorf("peak map row %d: %w", rows, err)
			}
			data = append(data, v)
		}
		rows++
	}
	return grid.Map{Rows: rows, Cols: cols, Data: data}, true, nil
}

// WriteBrightnessSeries writes a time column followed by one column per
// cell. Shorter series are padded with empty fields.
func WriteBrightnessSeries(runDir string, tsample float64, series []CellSeries) error {
	file, err := os.Create(filepath.Join(runDir, "brightness.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := make([]string, 0, len(series)+1)
	header = append(header, "t")
	samples := 0
	for _, s := range series {
		header = append(header, fmt.Sprintf("cell_%d_%d", s.I, s.J))
		samples = max(samples, len(s.Brightness))
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for n := 0; n < samples; n++ {
		row[0] = strconv.FormatFloat(float64(n)*tsample, 'g', -1, 64)
		for k, s := range series {
			row[k+1] = ""
			if n < len(s.Brightness) {
				row[k+1] = strconv.FormatFloat(s.Brightness[n], 'g', -1, 64)
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadBrightnessHeader(baseDir, runID string) ([]string, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, "brightness.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	header, err := csv.NewReader(file).Read()
	if err != nil {
		return nil, false, err
	}
	if len(header) == 0 || strings.TrimSpace(header[0]) != "t" {
		return nil, false, fmt.Errorf("brightness series must start with a time column")
	}
	return header[1:], true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
