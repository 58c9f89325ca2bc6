// Package metahdr is the public entry point for running meta-test
// evaluations and browsing their results.
package metahdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"metahdr/internal/config"
	"metahdr/internal/dataset"
	"metahdr/internal/device"
	"metahdr/internal/evaluate"
	"metahdr/internal/export"
	"metahdr/internal/labels"
	"metahdr/internal/loss"
	"metahdr/internal/maml"
	"metahdr/internal/model"
	"metahdr/internal/nn"
	"metahdr/internal/sampler"
	"metahdr/internal/stats"
	"metahdr/internal/storage"
)

const (
	defaultArtifactsDir = "evaluations"
	defaultExportsDir   = "exports"
	defaultDBPath       = "metahdr.db"

	// PreviewDirName is created inside the model directory when previews are on.
	PreviewDirName = "evaluation_output"
)

var modeTitles = map[string]string{
	evaluate.ModeSingle:       "Single-Shot",
	evaluate.ModeAdaptDebevec: "Debevec Adapted",
	evaluate.ModeAdaptHDRCNN:  "HDRCNN Adapted",
}

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
}

type Client struct {
	store storage.Store

	mu          sync.Mutex
	initialized bool

	artifactsDir string
	exportsDir   string
}

type EvaluateRequest struct {
	ModelDir string
	UseBest  bool
	Config   config.Config
	// Out receives the run log and the result lines. Per-task progress is
	// added only when Out is a terminal.
	Out io.Writer
	// Now stamps the record; time.Now when nil.
	Now func() time.Time
}

type EvaluateSummary struct {
	RunID           string
	Checkpoint      string
	CheckpointEpoch int
	Seed            int64
	Device          string
	Modes           []model.ModeResult
	ArtifactsDir    string
	PreviewDir      string
	Elapsed         time.Duration
}

type RunsRequest struct {
	Limit int
}

type HistoryRequest struct {
	Mode  string
	Limit int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Evaluate runs the three evaluation modes against one checkpoint of a
// trained meta-model. The configuration is validated before the checkpoint
// or any scene is read.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	started := time.Now()
	out := req.Out
	if out == nil {
		out = io.Discard
	}
	now := req.Now
	if now == nil {
		now = time.Now
	}
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return EvaluateSummary{}, err
	}
	if req.ModelDir == "" {
		return EvaluateSummary{}, fmt.Errorf("%w: model directory is required", model.ErrConfig)
	}
	lossFn, err := loss.Get(cfg.Eval.LossFunc)
	if err != nil {
		return EvaluateSummary{}, err
	}
	dev, err := device.Select(cfg.Eval.Device)
	if err != nil {
		return EvaluateSummary{}, err
	}
	net, err := nn.NewResidualConvNet(cfg.Architecture(), dev)
	if err != nil {
		return EvaluateSummary{}, err
	}
	fmt.Fprintf(out, "device: %s\n", dev)

	ckptPath := storage.CheckpointPath(req.ModelDir, req.UseBest)
	ckpt, size, err := storage.ReadCheckpoint(ckptPath)
	if err != nil {
		return EvaluateSummary{}, err
	}
	if err := checkArchitecture(net.Architecture(), ckpt.Architecture); err != nil {
		return EvaluateSummary{}, err
	}
	meta, err := maml.NewMetaModel(net, ckpt.Params, cfg.Eval.TaskLR)
	if err != nil {
		return EvaluateSummary{}, err
	}
	fmt.Fprintf(out, "loaded checkpoint %s (%s, %s parameters)\n",
		ckptPath, humanize.Bytes(uint64(size)), humanize.Comma(int64(ckpt.Params.NumValues())))
	fmt.Fprintf(out, "during training: best epoch %d, best SSIM %.4f\n", ckpt.Epoch, ckpt.Performance)

	ds, err := dataset.LoadDir(cfg.Dataset.Root, cfg.Eval.NumExposures)
	if err != nil {
		return EvaluateSummary{}, err
	}
	if ref, err := ds.Image(0, dataset.ReferenceExposure); err == nil {
		fmt.Fprintf(out, "dataset %s: %s scenes x %d exposures, %s pixels per image\n",
			cfg.Dataset.Root, humanize.Comma(int64(ds.Len())), ds.NumExposures(), humanize.Comma(int64(ref.Height*ref.Width)))
	}

	var seed int64
	if cfg.Eval.Seed != nil {
		seed = *cfg.Eval.Seed
	} else {
		seed = now().UnixNano()
	}
	smp, err := sampler.New(cfg.Eval.NumExposures, seed)
	if err != nil {
		return EvaluateSummary{}, err
	}

	evalCfg := evaluate.Config{
		Dataset:  ds,
		Learner:  &maml.Learner{Meta: meta, Loss: lossFn, Steps: cfg.Eval.InnerSteps},
		Sampler:  smp,
		Baseline: labels.Baseline{Dir: cfg.Dataset.BaselineDir, DatasetLen: ds.Len()},
	}
	if cfg.Eval.DebevecSource == config.DebevecMerge {
		evalCfg.Classical = labels.Merge{}
	}
	previewDir := ""
	if cfg.Dataset.Visualize {
		previewDir = filepath.Join(req.ModelDir, PreviewDirName)
		evalCfg.Exporter = export.PNGExporter{Dir: previewDir}
	}
	if isTerminal(out) {
		evalCfg.Progress = out
	}
	evaluator, err := evaluate.New(evalCfg)
	if err != nil {
		return EvaluateSummary{}, err
	}
	modes, err := evaluator.Run(ctx)
	if err != nil {
		return EvaluateSummary{}, err
	}
	for _, mode := range modes {
		fmt.Fprintf(out, "[Evaluation Results] Average %s Evaluation SSIM : %.3f\n", modeTitles[mode.Mode], mode.MeanSSIM)
		fmt.Fprintf(out, "[Evaluation Results] Average %s Evaluation PSNR : %.3f\n", modeTitles[mode.Mode], mode.MeanPSNR)
	}

	record := model.EvaluationRecord{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           uuid.NewString(),
		ModelDir:        req.ModelDir,
		Checkpoint:      filepath.Base(ckptPath),
		CheckpointEpoch: ckpt.Epoch,
		LossFunc:        cfg.Eval.LossFunc,
		NumExposures:    cfg.Eval.NumExposures,
		InnerSteps:      cfg.Eval.InnerSteps,
		TaskLR:          cfg.Eval.TaskLR,
		Seed:            seed,
		Device:          dev.String(),
		Modes:           modes,
		CreatedAtUTC:    now().UTC().Format(time.RFC3339Nano),
	}
	if err := c.Init(ctx); err != nil {
		return EvaluateSummary{}, err
	}
	if err := c.store.SaveEvaluation(ctx, record); err != nil {
		return EvaluateSummary{}, fmt.Errorf("save evaluation: %w", err)
	}
	recordedCfg := cfg
	recordedCfg.Eval.Seed = &seed
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{Config: recordedCfg, Record: record})
	if err != nil {
		return EvaluateSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntry(record)); err != nil {
		return EvaluateSummary{}, err
	}

	elapsed := time.Since(started)
	fmt.Fprintf(out, "run %s finished in %s (seed %d)\n", record.RunID, elapsed.Round(time.Millisecond), seed)

	return EvaluateSummary{
		RunID:           record.RunID,
		Checkpoint:      record.Checkpoint,
		CheckpointEpoch: record.CheckpointEpoch,
		Seed:            seed,
		Device:          record.Device,
		Modes:           modes,
		ArtifactsDir:    runDir,
		PreviewDir:      previewDir,
		Elapsed:         elapsed,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]stats.RunIndexEntry, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

// History lists one mode's averages across the stored runs, newest first.
func (c *Client) History(ctx context.Context, req HistoryRequest) ([]storage.ModeAverage, error) {
	if !slices.Contains(evaluate.Modes, req.Mode) {
		return nil, fmt.Errorf("%w: unknown evaluation mode %q", model.ErrConfig, req.Mode)
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	averages, err := storage.ModeAverages(ctx, c.store, req.Mode)
	if err != nil {
		return nil, err
	}
	if len(averages) > req.Limit {
		averages = averages[:req.Limit]
	}
	return averages, nil
}

// Show returns a stored evaluation, falling back to the run's metrics
// artifact when the store does not hold it.
func (c *Client) Show(ctx context.Context, runID string) (model.EvaluationRecord, error) {
	if runID == "" {
		return model.EvaluationRecord{}, errors.New("run id is required")
	}
	if err := c.Init(ctx); err != nil {
		return model.EvaluationRecord{}, err
	}
	record, ok, err := c.store.GetEvaluation(ctx, runID)
	if err != nil {
		return model.EvaluationRecord{}, err
	}
	if ok {
		return record, nil
	}
	summaries, ok, err := stats.ReadRunMetrics(c.artifactsDir, runID)
	if err != nil {
		return model.EvaluationRecord{}, err
	}
	if !ok {
		return model.EvaluationRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	record = model.EvaluationRecord{RunID: runID}
	for _, summary := range summaries {
		record.Modes = append(record.Modes, summary.Result)
	}
	return record, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// checkArchitecture compares the configured network with the one the
// checkpoint was trained for. A checkpoint without an architecture is
// accepted and left to the parameter layout check.
func checkArchitecture(configured, stored model.Architecture) error {
	if stored == (model.Architecture{}) {
		return nil
	}
	if stored.Activation == "" {
		stored.Activation = configured.Activation
	}
	if stored != configured {
		return fmt.Errorf("%w: checkpoint architecture %+v does not match configured %+v", model.ErrCheckpoint, stored, configured)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
