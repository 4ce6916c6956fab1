package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	api "oodresample/pkg/oodresample"
)

// loadRunRequestFromConfig reads a JSON or YAML run config. Keys mirror the
// run flags with underscores; a nested "data" section describes the sources.
func loadRunRequestFromConfig(path string) (api.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.RunRequest{}, err
	}
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return api.RunRequest{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	var req api.RunRequest
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["epochs"]); ok {
		req.Epochs = v
	}
	if v, ok := asInt(raw["warmup_epochs"]); ok {
		req.WarmupEpochs = v
	}
	if v, ok := asString(raw["scoring"]); ok {
		req.Scoring = v
	}
	if v, ok := asString(raw["distribution"]); ok {
		req.Distribution = v
	}
	if v, ok := asString(raw["resampler"]); ok {
		req.Resampler = v
	}
	if v, ok := asFloat64(raw["quantile"]); ok {
		req.Quantile = v
	}
	if v, ok := asBool(raw["strict"]); ok {
		req.Strict = v
	}
	if v, ok := asBool(raw["replacement"]); ok {
		req.Replacement = v
	}
	if v, ok := asString(raw["policy"]); ok {
		req.Policy = v
	}
	if v, ok := asFloat64Slice(raw["coefficients"]); ok {
		req.Coefficients = v
	}
	if v, ok := asInt(raw["decay_component"]); ok {
		req.DecayComponent = v
	}
	if v, ok := asFloat64(raw["decay_from"]); ok {
		req.DecayFrom = v
	}
	if v, ok := asFloat64(raw["decay_to"]); ok {
		req.DecayTo = v
	}
	if v, ok := asInt(raw["components"]); ok {
		req.Components = v
	}
	if v, ok := asInt(raw["bins"]); ok {
		req.Bins = v
	}
	if v, ok := asInt64(raw["base_seed"]); ok {
		req.BaseSeed = v
	}
	if v, ok := asString(raw["pool_mode"]); ok {
		req.PoolMode = v
	}
	if v, ok := asInt(raw["candidate_size"]); ok {
		req.CandidateSize = v
	}
	if v, ok := asFloat64(raw["size_factor"]); ok {
		req.SizeFactor = v
	}
	if v, ok := asInt(raw["sampled_size"]); ok {
		req.SampledSize = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asInt(raw["aux_batch_factor"]); ok {
		req.AuxBatchFactor = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asString(raw["loss"]); ok {
		req.Loss = v
	}
	if v, ok := asFloat64(raw["beta"]); ok {
		req.Beta = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asString(raw["schedule"]); ok {
		req.Schedule = v
	}
	if v, ok := asFloat64(raw["momentum"]); ok {
		req.Momentum = v
	}
	if v, ok := asFloat64(raw["weight_decay"]); ok {
		req.WeightDecay = v
	}
	if v, ok := asBool(raw["nesterov"]); ok {
		req.Nesterov = v
	}
	if v, ok := asInt(raw["save_every"]); ok {
		req.SaveEvery = v
	}
	if v, ok := asString(raw["pretrained_path"]); ok {
		req.PretrainedPath = v
	}
	if v, ok := asInt(raw["cluster_diagnosis"]); ok {
		req.ClusterDiagnosis = v
	}
	if v, ok := asBool(raw["charts"]); ok {
		req.Charts = v
	}
	if v, ok := asString(raw["metrics_out"]); ok {
		req.MetricsOut = v
	}

	if section, ok := raw["data"].(map[string]any); ok {
		d := &req.Data
		if v, ok := asString(section["train_csv"]); ok {
			d.TrainCSV = v
		}
		if v, ok := asString(section["eval_csv"]); ok {
			d.EvalCSV = v
		}
		if v, ok := asString(section["aux_csv"]); ok {
			d.AuxCSV = v
		}
		if v, ok := asInt(section["label_column"]); ok {
			d.LabelColumn = v
		}
		if v, ok := asBool(section["has_header"]); ok {
			d.HasHeader = v
		}
		if v, ok := asInt(section["classes"]); ok {
			d.Classes = v
		}
		if v, ok := asInt(section["dim"]); ok {
			d.Dim = v
		}
		if v, ok := asInt(section["per_class"]); ok {
			d.PerClass = v
		}
		if v, ok := asInt(section["eval_per_class"]); ok {
			d.EvalPerClass = v
		}
		if v, ok := asFloat64(section["separation"]); ok {
			d.Separation = v
		}
		if v, ok := asInt(section["aux_size"]); ok {
			d.AuxSize = v
		}
		if v, ok := asFloat64(section["near_fraction"]); ok {
			d.NearFraction = v
		}
		if v, ok := asInt64(section["data_seed"]); ok {
			d.DataSeed = v
		}
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

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
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

func asFloat64Slice(v any) ([]float64, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := asFloat64(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// overrideFromFlags applies only the flags set on the command line on top
// of a config-loaded request.
func overrideFromFlags(req *api.RunRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "seed":
			req.Seed = v.(int64)
		case "epochs":
			req.Epochs = v.(int)
		case "warmup-epochs":
			req.WarmupEpochs = v.(int)
		case "scoring":
			req.Scoring = v.(string)
		case "distribution":
			req.Distribution = v.(string)
		case "resampler":
			req.Resampler = v.(string)
		case "quantile":
			req.Quantile = v.(float64)
		case "strict":
			req.Strict = v.(bool)
		case "replacement":
			req.Replacement = v.(bool)
		case "policy":
			req.Policy = v.(string)
		case "coefficients":
			req.Coefficients = v.([]float64)
		case "decay-component":
			req.DecayComponent = v.(int)
		case "decay-from":
			req.DecayFrom = v.(float64)
		case "decay-to":
			req.DecayTo = v.(float64)
		case "components":
			req.Components = v.(int)
		case "bins":
			req.Bins = v.(int)
		case "base-seed":
			req.BaseSeed = v.(int64)
		case "pool-mode":
			req.PoolMode = v.(string)
		case "candidate-size":
			req.CandidateSize = v.(int)
		case "size-factor":
			req.SizeFactor = v.(float64)
		case "sampled-size":
			req.SampledSize = v.(int)
		case "batch-size":
			req.BatchSize = v.(int)
		case "aux-batch-factor":
			req.AuxBatchFactor = v.(int)
		case "workers":
			req.Workers = v.(int)
		case "loss":
			req.Loss = v.(string)
		case "beta":
			req.Beta = v.(float64)
		case "lr":
			req.LearningRate = v.(float64)
		case "schedule":
			req.Schedule = v.(string)
		case "momentum":
			req.Momentum = v.(float64)
		case "weight-decay":
			req.WeightDecay = v.(float64)
		case "nesterov":
			req.Nesterov = v.(bool)
		case "save-every":
			req.SaveEvery = v.(int)
		case "pretrained":
			req.PretrainedPath = v.(string)
		case "cluster-diagnosis":
			req.ClusterDiagnosis = v.(int)
		case "charts":
			req.Charts = v.(bool)
		case "metrics-out":
			req.MetricsOut = v.(string)
		case "train-csv":
			req.Data.TrainCSV = v.(string)
		case "eval-csv":
			req.Data.EvalCSV = v.(string)
		case "aux-csv":
			req.Data.AuxCSV = v.(string)
		case "label-column":
			req.Data.LabelColumn = v.(int)
		case "has-header":
			req.Data.HasHeader = v.(bool)
		case "classes":
			req.Data.Classes = v.(int)
		case "dim":
			req.Data.Dim = v.(int)
		case "per-class":
			req.Data.PerClass = v.(int)
		case "eval-per-class":
			req.Data.EvalPerClass = v.(int)
		case "separation":
			req.Data.Separation = v.(float64)
		case "aux-size":
			req.Data.AuxSize = v.(int)
		case "near-fraction":
			req.Data.NearFraction = v.(float64)
		case "data-seed":
			req.Data.DataSeed = v.(int64)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}
