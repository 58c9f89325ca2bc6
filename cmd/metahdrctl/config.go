package main

import (
	"fmt"

	"metahdr/internal/config"
)

func loadOrDefaultConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// overrideFromFlags applies only the flags that were set explicitly, so a
// config file value survives an untouched flag default.
func overrideFromFlags(cfg *config.Config, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "store":
			cfg.Store.Kind = v.(string)
		case "db-path":
			cfg.Store.Path = v.(string)
		case "loss":
			cfg.Eval.LossFunc = v.(string)
		case "exposures":
			cfg.Eval.NumExposures = v.(int)
		case "steps":
			cfg.Eval.InnerSteps = v.(int)
		case "task-lr":
			cfg.Eval.TaskLR = v.(float64)
		case "seed":
			seed := v.(int64)
			cfg.Eval.Seed = &seed
		case "device":
			cfg.Eval.Device = v.(string)
		case "debevec-source":
			cfg.Eval.DebevecSource = v.(string)
		case "dataset":
			cfg.Dataset.Root = v.(string)
		case "baseline-dir":
			cfg.Dataset.BaselineDir = v.(string)
		case "visualize":
			cfg.Dataset.Visualize = v.(bool)
		}
	}
}
