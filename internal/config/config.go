// Package config holds the evaluation settings, their documented defaults and
// the JSON overlay read from a -cfg file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"metahdr/internal/device"
	"metahdr/internal/loss"
	"metahdr/internal/model"
	"metahdr/internal/nn"
)

const (
	DefaultLossFunc      = loss.ExpandNet
	DefaultNumExposures  = 3
	DefaultInnerSteps    = 1
	DefaultTaskLR        = 0.01
	DefaultNumFilters    = 8
	DefaultActivation    = "relu"
	DefaultDevice        = "auto"
	DefaultDatasetRoot   = "data/meta_test"
	DefaultBaselineDir   = "data/TestOutputs"
	DefaultImageChannels = 3

	DebevecReference = "reference"
	DebevecMerge     = "merge"
)

type Eval struct {
	LossFunc     string  `json:"loss_func"`
	NumExposures int     `json:"num_exposures"`
	InnerSteps   int     `json:"num_task_tr_iter"`
	TaskLR       float64 `json:"task_lr"`
	// A nil Seed asks the caller to draw one from the clock and record it.
	Seed   *int64 `json:"seed,omitempty"`
	Device string `json:"device"`
	// DebevecSource picks the adapt_debevec support labels: the scene
	// reference or a weighted merge of the scene's own exposures.
	DebevecSource string `json:"debevec_source"`
}

type Model struct {
	Channels   int    `json:"channels"`
	Filters    int    `json:"num_filters"`
	Activation string `json:"activation"`
}

type Dataset struct {
	Root        string `json:"root"`
	BaselineDir string `json:"baseline_dir"`
	Visualize   bool   `json:"visualize"`
}

type Store struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

type Config struct {
	Eval    Eval    `json:"eval"`
	Model   Model   `json:"model"`
	Dataset Dataset `json:"dataset"`
	Store   Store   `json:"store"`
}

func Defaults() Config {
	return Config{
		Eval: Eval{
			LossFunc:      DefaultLossFunc,
			NumExposures:  DefaultNumExposures,
			InnerSteps:    DefaultInnerSteps,
			TaskLR:        DefaultTaskLR,
			Device:        DefaultDevice,
			DebevecSource: DebevecReference,
		},
		Model: Model{
			Channels:   DefaultImageChannels,
			Filters:    DefaultNumFilters,
			Activation: DefaultActivation,
		},
		Dataset: Dataset{
			Root:        DefaultDatasetRoot,
			BaselineDir: DefaultBaselineDir,
			Visualize:   true,
		},
	}
}

// Architecture is the base network the configuration asks for.
func (c Config) Architecture() model.Architecture {
	return model.Architecture{Channels: c.Model.Channels, Filters: c.Model.Filters, Activation: c.Model.Activation}
}

// Validate rejects unusable settings. It touches no files so that a bad
// configuration fails before the checkpoint or the dataset is read.
func (c Config) Validate() error {
	if _, err := loss.Get(c.Eval.LossFunc); err != nil {
		return err
	}
	if c.Eval.NumExposures < 2 {
		return fmt.Errorf("%w: EVAL.NUM_EXPOSURES must be >= 2, got %d", model.ErrConfig, c.Eval.NumExposures)
	}
	if c.Eval.InnerSteps < 0 {
		return fmt.Errorf("%w: EVAL.NUM_TASK_TR_ITER must be >= 0, got %d", model.ErrConfig, c.Eval.InnerSteps)
	}
	if !(c.Eval.TaskLR > 0) {
		return fmt.Errorf("%w: EVAL.TASK_LR must be > 0, got %v", model.ErrConfig, c.Eval.TaskLR)
	}
	if _, err := device.Select(c.Eval.Device); err != nil {
		return err
	}
	switch c.Eval.DebevecSource {
	case "", DebevecReference, DebevecMerge:
	default:
		return fmt.Errorf("%w: unsupported EVAL.DEBEVEC_SOURCE %q", model.ErrConfig, c.Eval.DebevecSource)
	}
	if c.Model.Channels <= 0 {
		return fmt.Errorf("%w: MODEL.CHANNELS must be > 0", model.ErrConfig)
	}
	if c.Model.Filters <= 0 {
		return fmt.Errorf("%w: MODEL.NUM_FILTERS must be > 0", model.ErrConfig)
	}
	if _, err := nn.GetActivation(c.Model.Activation); err != nil {
		return fmt.Errorf("%w: MODEL.ACTIVATION: %v", model.ErrConfig, err)
	}
	if c.Dataset.Root == "" {
		return fmt.Errorf("%w: DATASET.ROOT is required", model.ErrConfig)
	}
	switch c.Store.Kind {
	case "", "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("%w: STORE.PATH is required for sqlite", model.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported STORE.KIND %q", model.ErrConfig, c.Store.Kind)
	}
	return nil
}

// Load overlays the sections of a JSON config file on Defaults. Keys that are
// absent keep their default.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", model.ErrConfig, path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", model.ErrConfig, path, err)
	}
	cfg.Apply(raw)
	return cfg, nil
}

// Apply overlays an already decoded config document.
func (c *Config) Apply(raw map[string]any) {
	if eval, ok := raw["EVAL"].(map[string]any); ok {
		if v, ok := asString(eval["LOSS_FUNC"]); ok {
			c.Eval.LossFunc = v
		}
		if v, ok := asInt(eval["NUM_EXPOSURES"]); ok {
			c.Eval.NumExposures = v
		}
		if v, ok := asInt(eval["NUM_TASK_TR_ITER"]); ok {
			c.Eval.InnerSteps = v
		}
		if v, ok := asFloat64(eval["TASK_LR"]); ok {
			c.Eval.TaskLR = v
		}
		if v, ok := asInt64(eval["SEED"]); ok {
			c.Eval.Seed = &v
		}
		if v, ok := asString(eval["DEVICE"]); ok {
			c.Eval.Device = v
		}
		if v, ok := asString(eval["DEBEVEC_SOURCE"]); ok {
			c.Eval.DebevecSource = v
		}
	}
	if m, ok := raw["MODEL"].(map[string]any); ok {
		if v, ok := asInt(m["CHANNELS"]); ok {
			c.Model.Channels = v
		}
		if v, ok := asInt(m["NUM_FILTERS"]); ok {
			c.Model.Filters = v
		}
		if v, ok := asString(m["ACTIVATION"]); ok {
			c.Model.Activation = v
		}
	}
	if ds, ok := raw["DATASET"].(map[string]any); ok {
		if v, ok := asString(ds["ROOT"]); ok {
			c.Dataset.Root = v
		}
		if v, ok := asString(ds["BASELINE_DIR"]); ok {
			c.Dataset.BaselineDir = v
		}
		if v, ok := asBool(ds["VISUALIZE"]); ok {
			c.Dataset.Visualize = v
		}
	}
	if st, ok := raw["STORE"].(map[string]any); ok {
		if v, ok := asString(st["KIND"]); ok {
			c.Store.Kind = v
		}
		if v, ok := asString(st["PATH"]); ok {
			c.Store.Path = v
		}
	}
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
