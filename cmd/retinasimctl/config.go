package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"retinasim/internal/percept"
	rsapi "retinasim/pkg/retinasim"
)

// loadSimulateRequestFromConfig reads a JSON simulation description:
//
//	{"grid": {"xlo": -500, ...}, "electrodes": [{"x": 0, "y": 0, "radius": 260, "amplitude": 30}], "method": "fft"}
func loadSimulateRequestFromConfig(path string) (rsapi.SimulateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rsapi.SimulateRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return rsapi.SimulateRequest{}, err
	}

	var req rsapi.SimulateRequest
	if v, ok := asString(raw["axon_map"]); ok {
		req.AxonMap = v
	}
	if gridMap, ok := raw["grid"].(map[string]any); ok {
		if v, ok := asFloat64(gridMap["xlo"]); ok {
			req.Grid.XLo = v
		}
		if v, ok := asFloat64(gridMap["xhi"]); ok {
			req.Grid.XHi = v
		}
		if v, ok := asFloat64(gridMap["ylo"]); ok {
			req.Grid.YLo = v
		}
		if v, ok := asFloat64(gridMap["yhi"]); ok {
			req.Grid.YHi = v
		}
		if v, ok := asFloat64(gridMap["sampling"]); ok {
			req.Grid.Sampling = v
		}
	}
	if v, ok := asFloat64(raw["axon_lambda"]); ok {
		req.AxonLambda = v
	}
	if v, ok := asString(raw["method"]); ok {
		req.Method = v
	}
	if v, ok := asFloat64(raw["tsample"]); ok {
		req.TSample = v
	}
	if v, ok := asFloat64(raw["tau1"]); ok {
		req.Tau1 = v
	}
	if v, ok := asFloat64(raw["tau2"]); ok {
		req.Tau2 = v
	}
	if v, ok := asFloat64(raw["tau3"]); ok {
		req.Tau3 = v
	}
	if v, ok := asFloat64(raw["epsilon"]); ok {
		req.E = rsapi.Float64(v)
	}
	if v, ok := asFloat64(raw["asymptote"]); ok {
		req.Asymptote = rsapi.Float64(v)
	}
	if v, ok := asFloat64(raw["slope"]); ok {
		req.Slope = v
	}
	if v, ok := asFloat64(raw["shift"]); ok {
		req.Shift = rsapi.Float64(v)
	}
	if v, ok := asFloat64(raw["alpha"]); ok {
		req.Alpha = rsapi.Float64(v)
	}
	if v, ok := asFloat64(raw["n"]); ok {
		req.N = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asBool(raw["keep_series"]); ok {
		req.KeepSeries = v
	}
	if v, ok := asFloat64(raw["threshold"]); ok {
		req.Threshold = v
	}

	if items, ok := raw["electrodes"].([]any); ok {
		for k, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return rsapi.SimulateRequest{}, fmt.Errorf("electrode %d must be an object", k)
			}
			req.Electrodes = append(req.Electrodes, electrodeFromMap(m))
		}
	}
	if items, ok := raw["cells"].([]any); ok {
		for k, item := range items {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return rsapi.SimulateRequest{}, fmt.Errorf("cell %d must be an [i, j] pair", k)
			}
			i, iok := asInt(pair[0])
			j, jok := asInt(pair[1])
			if !iok || !jok {
				return rsapi.SimulateRequest{}, fmt.Errorf("cell %d must be an [i, j] pair", k)
			}
			req.Cells = append(req.Cells, percept.Cell{I: i, J: j})
		}
	}
	return req, nil
}

func electrodeFromMap(m map[string]any) rsapi.ElectrodeRequest {
	var e rsapi.ElectrodeRequest
	if v, ok := asFloat64(m["radius"]); ok {
		e.Radius = v
	}
	if v, ok := asFloat64(m["x"]); ok {
		e.X = v
	}
	if v, ok := asFloat64(m["y"]); ok {
		e.Y = v
	}
	if v, ok := asFloat64(m["freq"]); ok {
		e.Freq = v
	}
	if v, ok := asFloat64(m["dur"]); ok {
		e.Dur = v
	}
	if v, ok := asFloat64(m["pulse_dur"]); ok {
		e.PulseDur = v
	}
	if v, ok := asFloat64(m["interphase_dur"]); ok {
		e.InterphaseDur = rsapi.Float64(v)
	}
	if v, ok := asFloat64(m["delay"]); ok {
		e.Delay = v
	}
	if v, ok := asFloat64(m["amplitude"]); ok {
		e.Amplitude = rsapi.Float64(v)
	}
	if v, ok := asString(m["polarity"]); ok {
		e.Polarity = v
	}
	return e
}

func loadOrDefaultSimulateRequest(configPath string) (rsapi.SimulateRequest, error) {
	if configPath == "" {
		return rsapi.SimulateRequest{}, nil
	}
	req, err := loadSimulateRequestFromConfig(configPath)
	if err != nil {
		return rsapi.SimulateRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// overrideFromFlags applies explicitly set flags on top of a config file.
// Pulse flags apply to every electrode.
func overrideFromFlags(req *rsapi.SimulateRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "axon-map":
			req.AxonMap = v.(string)
		case "xlo":
			req.Grid.XLo = v.(float64)
		case "xhi":
			req.Grid.XHi = v.(float64)
		case "ylo":
			req.Grid.YLo = v.(float64)
		case "yhi":
			req.Grid.YHi = v.(float64)
		case "sampling":
			req.Grid.Sampling = v.(float64)
		case "lambda":
			req.AxonLambda = v.(float64)
		case "method":
			req.Method = v.(string)
		case "tsample":
			req.TSample = v.(float64)
		case "tau1":
			req.Tau1 = v.(float64)
		case "tau2":
			req.Tau2 = v.(float64)
		case "tau3":
			req.Tau3 = v.(float64)
		case "epsilon":
			req.E = rsapi.Float64(v.(float64))
		case "asymptote":
			req.Asymptote = rsapi.Float64(v.(float64))
		case "slope":
			req.Slope = v.(float64)
		case "shift":
			req.Shift = rsapi.Float64(v.(float64))
		case "alpha":
			req.Alpha = rsapi.Float64(v.(float64))
		case "n":
			req.N = v.(float64)
		case "workers":
			req.Workers = v.(int)
		case "series":
			req.KeepSeries = v.(bool)
		case "threshold":
			req.Threshold = v.(float64)
		case "electrodes":
			electrodes, err := parseElectrodes(v.(string))
			if err != nil {
				return err
			}
			req.Electrodes = electrodes
		case "cells":
			cells, err := parseCells(v.(string))
			if err != nil {
				return err
			}
			req.Cells = cells
		}
	}

	for k := range req.Electrodes {
		e := &req.Electrodes[k]
		for name := range set {
			v, ok := flagValue[name]
			if !ok {
				continue
			}
			switch name {
			case "freq":
				e.Freq = v.(float64)
			case "dur":
				e.Dur = v.(float64)
			case "pulse-dur":
				e.PulseDur = v.(float64)
			case "interphase-dur":
				e.InterphaseDur = rsapi.Float64(v.(float64))
			case "delay":
				e.Delay = v.(float64)
			case "amp":
				e.Amplitude = rsapi.Float64(v.(float64))
			case "polarity":
				e.Polarity = v.(string)
			}
		}
	}
	return nil
}

// parseElectrodes parses "x:y:radius" entries separated by commas.
func parseElectrodes(spec string) ([]rsapi.ElectrodeRequest, error) {
	var out []rsapi.ElectrodeRequest
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("electrode %q must be x:y:radius", item)
		}
		vals := make([]float64, 3)
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("electrode %q: %w", item, err)
			}
			vals[i] = v
		}
		out = append(out, rsapi.ElectrodeRequest{X: vals[0], Y: vals[1], Radius: vals[2]})
	}
	return out, nil
}

// parseCells parses "i:j" entries separated by commas.
func parseCells(spec string) ([]percept.Cell, error) {
	var out []percept.Cell
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		i, j, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("cell %q must be i:j", item)
		}
		ci, err := strconv.Atoi(strings.TrimSpace(i))
		if err != nil {
			return nil, fmt.Errorf("cell %q: %w", item, err)
		}
		cj, err := strconv.Atoi(strings.TrimSpace(j))
		if err != nil {
			return nil, fmt.Errorf("cell %q: %w", item, err)
		}
		out = append(out, percept.Cell{I: ci, J: cj})
	}
	return out, nil
}
