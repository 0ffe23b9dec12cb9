package storage

import "retinasim/internal/model"

func sampleAxonMap(name string) model.AxonMapRecord {
	return model.AxonMapRecord{
		VersionedRecord: Versioned(),
		Name:            name,
		Grid:            model.GridSpec{XLo: -50, XHi: 50, YLo: -25, YHi: 25, Sampling: 25},
		Lambda:          2,
		Offsets:         []int{0, 1, 3, 4, 6, 7, 8, 9, 10},
		Sources:         []int{0, 1, 0, 2, 3, 2, 4, 5, 6, 7},
		Weights:         []float64{1, 1, 0.5, 1, 1, 0.25, 1, 1, 1, 1},
	}
}

func samplePercept(runID, created string) model.PerceptRecord {
	return model.PerceptRecord{
		VersionedRecord: Versioned(),
		RunID:           runID,
		CreatedAtUTC:    created,
		AxonMap:         "axons",
		Grid:            model.DefaultGridSpec(),
		Electrodes:      2,
		Method:          "fft",
		TSample:         1e-5,
		Samples:         400,
		Cells:           []model.CellPeak{{I: 40, J: 40, Peak: 3.5}, {I: 0, J: 0, Peak: 0}},
		MaxPeak:         3.5,
	}
}
