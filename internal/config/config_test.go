package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"metahdr/internal/loss"
	"metahdr/internal/model"
)

func writeConfig(t *testing.T, payload map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eval.json")
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Eval.LossFunc != loss.ExpandNet || cfg.Eval.NumExposures != 3 || cfg.Eval.InnerSteps != 1 || cfg.Eval.TaskLR != 0.01 {
		t.Fatalf("unexpected eval defaults: %+v", cfg.Eval)
	}
	if !cfg.Dataset.Visualize {
		t.Fatal("expected visualization on by default")
	}
}

func TestLoadOverlaysSections(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"EVAL": map[string]any{
			"LOSS_FUNC":        "HaarLoss",
			"NUM_EXPOSURES":    4,
			"NUM_TASK_TR_ITER": 0,
			"TASK_LR":          0.5,
			"SEED":             42,
			"DEBEVEC_SOURCE":   "merge",
		},
		"MODEL":   map[string]any{"NUM_FILTERS": 2, "ACTIVATION": "tanh"},
		"DATASET": map[string]any{"ROOT": "scenes", "VISUALIZE": false},
		"STORE":   map[string]any{"KIND": "sqlite", "PATH": "runs.db"},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Eval.LossFunc != "HaarLoss" || cfg.Eval.NumExposures != 4 || cfg.Eval.InnerSteps != 0 || cfg.Eval.TaskLR != 0.5 || cfg.Eval.Seed == nil || *cfg.Eval.Seed != 42 || cfg.Eval.DebevecSource != DebevecMerge {
		t.Fatalf("unexpected eval section: %+v", cfg.Eval)
	}
	if cfg.Model.Filters != 2 || cfg.Model.Activation != "tanh" || cfg.Model.Channels != DefaultImageChannels {
		t.Fatalf("unexpected model section: %+v", cfg.Model)
	}
	if cfg.Dataset.Root != "scenes" || cfg.Dataset.Visualize || cfg.Dataset.BaselineDir != DefaultBaselineDir {
		t.Fatalf("unexpected dataset section: %+v", cfg.Dataset)
	}
	if cfg.Store.Kind != "sqlite" || cfg.Store.Path != "runs.db" {
		t.Fatalf("unexpected store section: %+v", cfg.Store)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected config error for missing file, got %v", err)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown loss":   func(c *Config) { c.Eval.LossFunc = "FooLoss" },
		"one exposure":   func(c *Config) { c.Eval.NumExposures = 1 },
		"negative steps": func(c *Config) { c.Eval.InnerSteps = -1 },
		"zero lr":        func(c *Config) { c.Eval.TaskLR = 0 },
		"gpu device":     func(c *Config) { c.Eval.Device = "cuda" },
		"debevec source": func(c *Config) { c.Eval.DebevecSource = "robertson" },
		"no filters":     func(c *Config) { c.Model.Filters = 0 },
		"bad activation": func(c *Config) { c.Model.Activation = "swish" },
		"no root":        func(c *Config) { c.Dataset.Root = "" },
		"sqlite no path": func(c *Config) { c.Store.Kind = "sqlite" },
		"unknown store":  func(c *Config) { c.Store.Kind = "redis" },
	}
	for name, mutate := range cases {
		cfg := Defaults()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, model.ErrConfig) {
			t.Fatalf("%s: expected config error, got %v", name, err)
		}
	}
}

func TestZeroSeedIsAnExplicitChoice(t *testing.T) {
	if Defaults().Eval.Seed != nil {
		t.Fatal("default config should leave the seed unset")
	}
	cfg, err := Load(writeConfig(t, map[string]any{"EVAL": map[string]any{"SEED": 0}}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Eval.Seed == nil || *cfg.Eval.Seed != 0 {
		t.Fatalf("expected explicit seed 0, got %v", cfg.Eval.Seed)
	}
}
