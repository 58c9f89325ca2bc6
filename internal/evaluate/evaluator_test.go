package evaluate

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"slices"
	"strings"
	"testing"

	"metahdr/internal/dataset"
	"metahdr/internal/device"
	"metahdr/internal/labels"
	"metahdr/internal/loss"
	"metahdr/internal/maml"
	"metahdr/internal/model"
	"metahdr/internal/nn"
	"metahdr/internal/sampler"
)

type recordingExporter struct {
	calls map[string]int
}

func (r *recordingExporter) Export(mode string, _ int, _ Sample) error {
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[mode]++
	return nil
}

func newLearner(t *testing.T, params func(*nn.ResidualConvNet) model.Params, lossName string, steps int) *maml.Learner {
	t.Helper()
	net, err := nn.NewResidualConvNet(model.Architecture{Channels: 3, Filters: 2}, device.CPU())
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	meta, err := maml.NewMetaModel(net, params(net), 0.1)
	if err != nil {
		t.Fatalf("new meta-model: %v", err)
	}
	fn, err := loss.Get(lossName)
	if err != nil {
		t.Fatalf("get loss: %v", err)
	}
	return &maml.Learner{Meta: meta, Loss: fn, Steps: steps}
}

func zeroParams(net *nn.ResidualConvNet) model.Params {
	return net.Layout()
}

func writeBaselineFiles(t *testing.T, b labels.Baseline, numScenes, numExposures, h, w int, v uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	for scene := 0; scene < numScenes; scene++ {
		for exposure := 1; exposure <= numExposures; exposure++ {
			path, err := b.Path(scene, exposure)
			if err != nil {
				t.Fatalf("baseline path: %v", err)
			}
			f, err := os.Create(path)
			if err != nil {
				t.Fatalf("create baseline: %v", err)
			}
			if err := png.Encode(f, img); err != nil {
				t.Fatalf("encode baseline: %v", err)
			}
			_ = f.Close()
		}
	}
}

func TestEndToEndPerfectReconstructionAllModes(t *testing.T) {
	const numScenes, k, h, w = 2, 3, 4, 4
	ds, err := dataset.Constant(numScenes, k, h, w, 3, 0.2)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	baseline := labels.Baseline{Dir: t.TempDir(), DatasetLen: ds.Len()}
	writeBaselineFiles(t, baseline, numScenes, k, h, w, 51)

	s, err := sampler.New(k, 99)
	if err != nil {
		t.Fatalf("sampler: %v", err)
	}
	exporter := &recordingExporter{}
	var progress bytes.Buffer
	ev, err := New(Config{
		Dataset:  ds,
		Learner:  newLearner(t, zeroParams, loss.Haar, 2),
		Sampler:  s,
		Baseline: baseline,
		Exporter: exporter,
		Progress: &progress,
	})
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	results, err := ev.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected three mode results, got %d", len(results))
	}
	wantTasks := map[string]int{ModeSingle: numScenes * k, ModeAdaptDebevec: numScenes, ModeAdaptHDRCNN: numScenes}
	for _, result := range results {
		if result.Tasks != wantTasks[result.Mode] || len(result.PerTask) != result.Tasks {
			t.Fatalf("%s: unexpected task count %d", result.Mode, result.Tasks)
		}
		if math.Abs(result.MeanSSIM-1) > 1e-12 {
			t.Fatalf("%s: expected ssim 1, got %.15f", result.Mode, result.MeanSSIM)
		}
		if !math.IsInf(result.MeanPSNR, 1) {
			t.Fatalf("%s: expected +Inf psnr, got %f", result.Mode, result.MeanPSNR)
		}
		if exporter.calls[result.Mode] != result.Tasks {
			t.Fatalf("%s: expected %d exports, got %d", result.Mode, result.Tasks, exporter.calls[result.Mode])
		}
	}
	if !strings.Contains(progress.String(), "[adapt_hdrcnn] task 2/2") {
		t.Fatalf("expected progress output for the last task, got:\n%s", progress.String())
	}
}

func TestSingleShotMeanMatchesPerTaskMetrics(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	scenes := make([][]model.Image, 3)
	for i := range scenes {
		scenes[i] = make([]model.Image, 4)
		for j := range scenes[i] {
			img := model.NewImage(8, 8, 3)
			for p := range img.Pix {
				img.Pix[p] = rng.Float64()
			}
			scenes[i][j] = img
		}
	}
	ds, err := dataset.NewMemory(scenes, 3)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	s, _ := sampler.New(3, 1)
	initParams := func(net *nn.ResidualConvNet) model.Params {
		return net.InitParams(rand.New(rand.NewSource(6)))
	}
	ev, err := New(Config{Dataset: ds, Learner: newLearner(t, initParams, loss.SSIM, 1), Sampler: s})
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	result, err := ev.RunMode(context.Background(), ModeSingle)
	if err != nil {
		t.Fatalf("run single: %v", err)
	}
	var sumSSIM, sumPSNR float64
	for i, metric := range result.PerTask {
		wantScene, wantExposure := i/3, i%3+1
		if metric.Scene != wantScene || metric.Query[0] != wantExposure {
			t.Fatalf("task %d out of order: scene=%d query=%v", i, metric.Scene, metric.Query)
		}
		sumSSIM += metric.SSIM
		sumPSNR += metric.PSNR
	}
	if math.Abs(result.MeanSSIM-sumSSIM/9) > 1e-12 || math.Abs(result.MeanPSNR-sumPSNR/9) > 1e-9 {
		t.Fatalf("mode mean does not match per-task mean: %+v", result)
	}
}

func TestMissingBaselineAbortsMode(t *testing.T) {
	ds, _ := dataset.Constant(2, 3, 4, 4, 3, 0.2)
	s, _ := sampler.New(3, 3)
	ev, err := New(Config{
		Dataset:  ds,
		Learner:  newLearner(t, zeroParams, loss.Haar, 1),
		Sampler:  s,
		Baseline: labels.Baseline{Dir: t.TempDir(), DatasetLen: ds.Len()},
	})
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	if _, err := ev.RunMode(context.Background(), ModeAdaptHDRCNN); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error, got %v", err)
	}
	if _, err := ev.Run(context.Background()); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected run to stop with data error, got %v", err)
	}
}

func TestUnknownModeAndMismatchedSampler(t *testing.T) {
	ds, _ := dataset.Constant(1, 3, 4, 4, 3, 0.2)
	s, _ := sampler.New(3, 3)
	ev, err := New(Config{Dataset: ds, Learner: newLearner(t, zeroParams, loss.Haar, 1), Sampler: s})
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	if _, err := ev.RunMode(context.Background(), "adapt_magic"); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := ev.RunMode(context.Background(), ModeAdaptHDRCNN); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected config error without baseline, got %v", err)
	}

	other, _ := sampler.New(2, 3)
	if _, err := New(Config{Dataset: ds, Learner: newLearner(t, zeroParams, loss.Haar, 1), Sampler: other}); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected config error for sampler/dataset mismatch, got %v", err)
	}
}

type countingSource struct {
	labels.Merge
	calls int
}

func (c *countingSource) SupportLabel(ds dataset.Dataset, scene, exposure int) (model.Image, error) {
	c.calls++
	return c.Merge.SupportLabel(ds, scene, exposure)
}

func TestClassicalSourceReplacesDebevecLabels(t *testing.T) {
	ds, _ := dataset.Constant(2, 3, 4, 4, 3, 0.2)
	s, _ := sampler.New(3, 11)
	source := &countingSource{}
	ev, err := New(Config{
		Dataset:   ds,
		Learner:   newLearner(t, zeroParams, loss.Haar, 1),
		Sampler:   s,
		Classical: source,
	})
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	result, err := ev.RunMode(context.Background(), ModeAdaptDebevec)
	if err != nil {
		t.Fatalf("run debevec mode: %v", err)
	}
	if source.calls != 2*2 {
		t.Fatalf("expected one label per support exposure, got %d calls", source.calls)
	}
	if result.Tasks != 2 || math.Abs(result.MeanSSIM-1) > 1e-6 {
		t.Fatalf("unexpected merged-label result: %+v", result)
	}
}

func TestAdaptiveSplitsIndependentOfModeOrder(t *testing.T) {
	const numScenes, k, h, w = 8, 3, 4, 4
	ds, _ := dataset.Constant(numScenes, k, h, w, 3, 0.2)
	baseline := labels.Baseline{Dir: t.TempDir(), DatasetLen: ds.Len()}
	writeBaselineFiles(t, baseline, numScenes, k, h, w, 51)

	newEvaluator := func() *Evaluator {
		s, err := sampler.New(k, 42)
		if err != nil {
			t.Fatalf("sampler: %v", err)
		}
		ev, err := New(Config{
			Dataset:  ds,
			Learner:  newLearner(t, zeroParams, loss.Haar, 1),
			Sampler:  s,
			Baseline: baseline,
		})
		if err != nil {
			t.Fatalf("new evaluator: %v", err)
		}
		return ev
	}

	alone, err := newEvaluator().RunMode(context.Background(), ModeAdaptHDRCNN)
	if err != nil {
		t.Fatalf("run hdrcnn alone: %v", err)
	}
	all, err := newEvaluator().Run(context.Background())
	if err != nil {
		t.Fatalf("run all modes: %v", err)
	}
	afterOthers := all[2]
	if afterOthers.Mode != ModeAdaptHDRCNN || len(afterOthers.PerTask) != len(alone.PerTask) {
		t.Fatalf("unexpected hdrcnn result: %+v", afterOthers)
	}
	for i := range alone.PerTask {
		if !slices.Equal(alone.PerTask[i].Query, afterOthers.PerTask[i].Query) {
			t.Fatalf("task %d: query %v alone, %v after other modes", i, alone.PerTask[i].Query, afterOthers.PerTask[i].Query)
		}
	}
}
