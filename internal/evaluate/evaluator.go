// Package evaluate scores a meta-model on the meta-test scenes in three
// modes: single-shot, adapted with reference labels, and adapted with
// baseline-network labels.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"

	"metahdr/internal/dataset"
	"metahdr/internal/labels"
	"metahdr/internal/maml"
	"metahdr/internal/metrics"
	"metahdr/internal/model"
	"metahdr/internal/sampler"
)

const (
	ModeSingle       = "single"
	ModeAdaptDebevec = "adapt_debevec"
	ModeAdaptHDRCNN  = "adapt_hdrcnn"
)

// Modes lists the evaluation modes in run order.
var Modes = []string{ModeSingle, ModeAdaptDebevec, ModeAdaptHDRCNN}

// Sample is what an Exporter receives for one scored query exposure.
type Sample struct {
	Scene      int
	Exposure   int
	Input      model.Image
	Prediction model.Image
	Label      model.Image
}

// Exporter receives every scored query exposure of a mode.
type Exporter interface {
	Export(mode string, index int, sample Sample) error
}

// Config wires an Evaluator. Sampler seeds one independent split stream per
// adaptive mode, so modes can run alone or in any order.
type Config struct {
	Dataset dataset.Dataset
	Learner *maml.Learner
	Sampler *sampler.Sampler
	// Classical overrides the Debevec-mode support labels, which default to
	// the scene reference.
	Classical labels.Source
	// Baseline supplies the support labels of the HDRCNN mode.
	Baseline labels.Source
	// Exporter is optional.
	Exporter Exporter
	// Progress receives one line per task when non-nil.
	Progress io.Writer
}

// Evaluator runs the evaluation modes over one dataset and meta-model.
type Evaluator struct {
	cfg Config
}

// New checks that cfg is complete and consistent.
func New(cfg Config) (*Evaluator, error) {
	if cfg.Dataset == nil {
		return nil, errors.New("dataset is required")
	}
	if cfg.Learner == nil || cfg.Learner.Meta == nil {
		return nil, errors.New("learner with meta-model is required")
	}
	if cfg.Sampler == nil {
		return nil, errors.New("sampler is required")
	}
	if cfg.Sampler.NumExposures() != cfg.Dataset.NumExposures() {
		return nil, fmt.Errorf("%w: sampler draws from %d exposures but dataset has %d",
			model.ErrConfig, cfg.Sampler.NumExposures(), cfg.Dataset.NumExposures())
	}
	return &Evaluator{cfg: cfg}, nil
}

// Run evaluates every mode in order and stops at the first error.
func (e *Evaluator) Run(ctx context.Context) ([]model.ModeResult, error) {
	results := make([]model.ModeResult, 0, len(Modes))
	for _, mode := range Modes {
		result, err := e.RunMode(ctx, mode)
		if err != nil {
			return nil, fmt.Errorf("mode %s: %w", mode, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// RunMode evaluates a single mode with a fresh accumulator.
func (e *Evaluator) RunMode(ctx context.Context, mode string) (model.ModeResult, error) {
	ds := e.cfg.Dataset
	switch mode {
	case ModeSingle:
		tasks, err := sampler.SingleShot(ds.Len(), ds.NumExposures())
		if err != nil {
			return model.ModeResult{}, err
		}
		return e.evaluate(ctx, mode, tasks, nil)
	case ModeAdaptDebevec:
		tasks, err := e.cfg.Sampler.Fork(mode).Adaptive(ds.Len())
		if err != nil {
			return model.ModeResult{}, err
		}
		var source labels.Source = labels.GroundTruth{}
		if e.cfg.Classical != nil {
			source = e.cfg.Classical
		}
		return e.evaluate(ctx, mode, tasks, source)
	case ModeAdaptHDRCNN:
		if e.cfg.Baseline == nil {
			return model.ModeResult{}, fmt.Errorf("%w: baseline label source is required for %s", model.ErrConfig, mode)
		}
		tasks, err := e.cfg.Sampler.Fork(mode).Adaptive(ds.Len())
		if err != nil {
			return model.ModeResult{}, err
		}
		return e.evaluate(ctx, mode, tasks, e.cfg.Baseline)
	default:
		return model.ModeResult{}, fmt.Errorf("%w: unknown evaluation mode %q", model.ErrConfig, mode)
	}
}

// evaluate scores tasks in order. A nil source scores the base model directly;
// otherwise each task's support set is labelled by source and adapted on
// before its query is scored against the reference.
func (e *Evaluator) evaluate(ctx context.Context, mode string, tasks []model.Task, source labels.Source) (model.ModeResult, error) {
	acc := metrics.NewAccumulator()
	perTask := make([]model.TaskMetric, 0, len(tasks))
	exportIndex := 0
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return model.ModeResult{}, err
		}
		samples, err := e.predict(ctx, task, source)
		if err != nil {
			return model.ModeResult{}, fmt.Errorf("task %d (scene %d): %w", i, task.Scene, err)
		}

		taskAcc := metrics.NewAccumulator()
		for _, sample := range samples {
			ssim, psnr, err := metrics.Score(sample.Prediction, sample.Label)
			if err != nil {
				return model.ModeResult{}, fmt.Errorf("task %d (scene %d): %w", i, task.Scene, err)
			}
			taskAcc.Add(ssim, psnr)
			if e.cfg.Exporter != nil {
				if err := e.cfg.Exporter.Export(mode, exportIndex, sample); err != nil {
					return model.ModeResult{}, fmt.Errorf("export task %d: %w", i, err)
				}
			}
			exportIndex++
		}
		ssim, psnr := taskAcc.Mean()
		acc.Add(ssim, psnr)
		perTask = append(perTask, model.TaskMetric{
			Index: i,
			Scene: task.Scene,
			Query: append([]int(nil), task.Query...),
			SSIM:  ssim,
			PSNR:  psnr,
		})
		if e.cfg.Progress != nil {
			fmt.Fprintf(e.cfg.Progress, "[%s] task %d/%d scene=%d query=%v ssim=%.4f psnr=%.3f\n",
				mode, i+1, len(tasks), task.Scene, task.Query, ssim, psnr)
		}
	}

	meanSSIM, meanPSNR := acc.Mean()
	return model.ModeResult{
		Mode:     mode,
		Tasks:    acc.Count(),
		MeanSSIM: meanSSIM,
		MeanPSNR: meanPSNR,
		PerTask:  perTask,
	}, nil
}

// predict returns one scored sample per query exposure of task. Fast
// parameters created for adaptation do not outlive this call.
func (e *Evaluator) predict(ctx context.Context, task model.Task, source labels.Source) ([]Sample, error) {
	ds := e.cfg.Dataset
	reference, err := ds.Image(task.Scene, dataset.ReferenceExposure)
	if err != nil {
		return nil, err
	}
	inputs := make([]model.Image, len(task.Query))
	for i, exposure := range task.Query {
		if inputs[i], err = ds.Image(task.Scene, exposure); err != nil {
			return nil, err
		}
	}

	var preds []model.Image
	if source == nil {
		preds = make([]model.Image, len(inputs))
		for i, input := range inputs {
			if preds[i], err = e.cfg.Learner.Meta.Predict(input); err != nil {
				return nil, err
			}
		}
	} else {
		support := make([]maml.Example, len(task.Support))
		for i, exposure := range task.Support {
			input, err := ds.Image(task.Scene, exposure)
			if err != nil {
				return nil, err
			}
			label, err := source.SupportLabel(ds, task.Scene, exposure)
			if err != nil {
				return nil, err
			}
			support[i] = maml.Example{Input: input, Label: label}
		}
		if preds, _, err = e.cfg.Learner.AdaptAndPredict(ctx, support, inputs); err != nil {
			return nil, err
		}
	}

	samples := make([]Sample, len(preds))
	for i := range preds {
		samples[i] = Sample{
			Scene:      task.Scene,
			Exposure:   task.Query[i],
			Input:      inputs[i],
			Prediction: preds[i],
			Label:      reference,
		}
	}
	return samples, nil
}
