package model

import "fmt"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// GridSpec is the retinal sampling grid in microns. The x and y axes are
// half-open: [XLo, XHi) and [YLo, YHi).
type GridSpec struct {
	XLo      float64 `json:"xlo"`
	XHi      float64 `json:"xhi"`
	YLo      float64 `json:"ylo"`
	YHi      float64 `json:"yhi"`
	Sampling float64 `json:"sampling"`
}

// DefaultGridSpec is the 2mm x 2mm patch centred on the fovea sampled every 25 microns.
func DefaultGridSpec() GridSpec {
	return GridSpec{XLo: -1000, XHi: 1000, YLo: -1000, YHi: 1000, Sampling: 25}
}

func (g GridSpec) String() string {
	return fmt.Sprintf("x=[%g,%g) y=[%g,%g) sampling=%g", g.XLo, g.XHi, g.YLo, g.YHi, g.Sampling)
}

type AxonMapRecord struct {
	VersionedRecord
	Name    string    `json:"name"`
	Grid    GridSpec  `json:"grid"`
	Lambda  float64   `json:"axon_lambda"`
	Offsets []int     `json:"offsets"`
	Sources []int     `json:"axon_id"`
	Weights []float64 `json:"axon_weight"`
}

type CellPeak struct {
	I    int     `json:"i"`
	J    int     `json:"j"`
	Peak float64 `json:"peak"`
}

type PerceptRecord struct {
	VersionedRecord
	RunID        string     `json:"run_id"`
	CreatedAtUTC string     `json:"created_at_utc"`
	AxonMap      string     `json:"axon_map"`
	Grid         GridSpec   `json:"grid"`
	Electrodes   int        `json:"electrodes"`
	Method       string     `json:"method"`
	TSample      float64    `json:"tsample"`
	Samples      int        `json:"samples"`
	Cells        []CellPeak `json:"cells"`
	MaxPeak      float64    `json:"max_peak"`
}
