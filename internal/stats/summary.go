package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PeakSummary describes the distribution of per-cell peak brightness.
type PeakSummary struct {
	Cells     int     `json:"cells"`
	Bright    int     `json:"bright"`
	Threshold float64 `json:"threshold"`
	Mean      float64 `json:"mean"`
	Std       float64 `json:"std"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// SummarizePeaks counts cells whose peak exceeds threshold and reports the
// population mean and standard deviation of all peaks.
func SummarizePeaks(peaks []float64, threshold float64) PeakSummary {
	s := PeakSummary{Cells: len(peaks), Threshold: threshold}
	if len(peaks) == 0 {
		return s
	}
	s.Mean, s.Std = stat.PopMeanStdDev(peaks, nil)
	s.Min = floats.Min(peaks)
	s.Max = floats.Max(peaks)
	for _, p := range peaks {
		if p > threshold {
			s.Bright++
		}
	}
	return s
}
