package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"metahdr/internal/device"
	"metahdr/internal/loss"
	"metahdr/internal/storage"
	hdrapi "metahdr/pkg/metahdr"
)

const (
	artifactsDir = "evaluations"
	exportsDir   = "exports"
	defaultDB    = "metahdr.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "eval":
		return runEval(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "losses":
		return runLosses(ctx, args[1:])
	case "device":
		return runDevice(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	modelDir := fs.String("model-dir", "", "directory holding model_best.ckpt / model_last.ckpt")
	useBest := fs.Bool("use-best", true, "evaluate model_best.ckpt instead of model_last.ckpt")
	cfgPath := fs.String("cfg", "", "JSON config with EVAL/MODEL/DATASET/STORE sections")
	storeKind := fs.String("store", "", "store backend: memory|sqlite (overrides STORE.KIND)")
	dbPath := fs.String("db-path", "", "sqlite database path (overrides STORE.PATH)")
	lossFunc := fs.String("loss", "", "loss function name")
	exposures := fs.Int("exposures", 0, "exposures per scene")
	steps := fs.Int("steps", 0, "inner adaptation steps")
	taskLR := fs.Float64("task-lr", 0, "inner adaptation learning rate")
	seed := fs.Int64("seed", 0, "task sampling seed; unset draws one from the clock")
	deviceName := fs.String("device", "", "compute device: auto|cpu")
	debevecSource := fs.String("debevec-source", "", "adapt_debevec support labels: reference|merge")
	datasetRoot := fs.String("dataset", "", "meta-test dataset root")
	baselineDir := fs.String("baseline-dir", "", "directory of precomputed baseline outputs")
	visualize := fs.Bool("visualize", true, "write preview images under the model directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelDir == "" {
		return errors.New("eval requires --model-dir")
	}

	cfg, err := loadOrDefaultConfig(*cfgPath)
	if err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	overrideFromFlags(&cfg, set, map[string]any{
		"store":          *storeKind,
		"db-path":        *dbPath,
		"loss":           *lossFunc,
		"exposures":      *exposures,
		"steps":          *steps,
		"task-lr":        *taskLR,
		"seed":           *seed,
		"device":         *deviceName,
		"debevec-source": *debevecSource,
		"dataset":        *datasetRoot,
		"baseline-dir":   *baselineDir,
		"visualize":      *visualize,
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	dbFile := cfg.Store.Path
	if dbFile == "" {
		dbFile = defaultDB
	}
	client, err := hdrapi.New(hdrapi.Options{
		StoreKind:    cfg.Store.Kind,
		DBPath:       dbFile,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, hdrapi.EvaluateRequest{
		ModelDir: *modelDir,
		UseBest:  *useBest,
		Config:   cfg,
		Out:      os.Stdout,
	})
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s checkpoint=%s epoch=%d seed=%d artifacts=%s\n",
		summary.RunID, summary.Checkpoint, summary.CheckpointEpoch, summary.Seed, summary.ArtifactsDir)
	if summary.PreviewDir != "" {
		fmt.Printf("previews=%s\n", summary.PreviewDir)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := hdrapi.New(hdrapi.Options{StoreKind: "memory", ArtifactsDir: artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Runs(ctx, hdrapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("run_id=%s created_at=%s model_dir=%s checkpoint=%s loss=%s exposures=%d steps=%d seed=%d single_ssim=%.6f\n",
			e.RunID,
			e.CreatedAtUTC,
			e.ModelDir,
			e.Checkpoint,
			e.LossFunc,
			e.NumExposures,
			e.InnerSteps,
			e.Seed,
			e.SingleSSIM,
		)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("show requires --run-id")
	}

	client, err := hdrapi.New(hdrapi.Options{StoreKind: *storeKind, DBPath: *dbPath, ArtifactsDir: artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	record, err := client.Show(ctx, *runID)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s model_dir=%s checkpoint=%s loss=%s seed=%d device=%s\n",
		record.RunID, record.ModelDir, record.Checkpoint, record.LossFunc, record.Seed, record.Device)
	for _, mode := range record.Modes {
		fmt.Printf("mode=%s tasks=%d mean_ssim=%.6f mean_psnr=%.6f\n", mode.Mode, mode.Tasks, mode.MeanSSIM, mode.MeanPSNR)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	mode := fs.String("mode", "adapt_hdrcnn", "evaluation mode: single|adapt_debevec|adapt_hdrcnn")
	limit := fs.Int("limit", 20, "max runs to list")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := hdrapi.New(hdrapi.Options{StoreKind: *storeKind, DBPath: *dbPath, ArtifactsDir: artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	averages, err := client.History(ctx, hdrapi.HistoryRequest{Mode: *mode, Limit: *limit})
	if err != nil {
		return err
	}
	if len(averages) == 0 {
		fmt.Printf("no stored runs for mode=%s\n", *mode)
		return nil
	}
	for _, avg := range averages {
		fmt.Printf("run_id=%s mode=%s tasks=%d mean_ssim=%.6f mean_psnr=%.6f\n", avg.RunID, avg.Mode, avg.Tasks, avg.MeanSSIM, avg.MeanPSNR)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := hdrapi.New(hdrapi.Options{StoreKind: "memory", ArtifactsDir: artifactsDir, ExportsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, hdrapi.ExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runLosses(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("losses", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range loss.Names() {
		fmt.Println(name)
	}
	return nil
}

func runDevice(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("device", flag.ContinueOnError)
	pref := fs.String("device", "auto", "compute device preference")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dev, err := device.Select(*pref)
	if err != nil {
		return err
	}
	fmt.Printf("kind=%s name=%q vendor=%s cores=%d/%d features=%s\n",
		dev.Kind, dev.Name, dev.Vendor, dev.PhysicalCores, dev.LogicalCores, strings.Join(dev.Features, ","))
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: metahdrctl <eval|runs|show|history|export|losses|device> [flags]", msg)
}
