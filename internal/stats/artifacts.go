package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"metahdr/internal/config"
	"metahdr/internal/model"
)

const (
	runIndexFile = "run_index.json"
	configFile   = "config.json"
	metricsFile  = "metrics.json"
	tasksFile    = "tasks.csv"
)

type RunArtifacts struct {
	Config config.Config
	Record model.EvaluationRecord
}

// ModeSummary adds the spread of per-task SSIM to a mode's result.
type ModeSummary struct {
	Result  model.ModeResult `json:"result"`
	StdSSIM float64          `json:"std_ssim"`
	MinSSIM float64          `json:"min_ssim"`
	MaxSSIM float64          `json:"max_ssim"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	ModelDir     string  `json:"model_dir"`
	Checkpoint   string  `json:"checkpoint"`
	LossFunc     string  `json:"loss_func"`
	NumExposures int     `json:"num_exposures"`
	InnerSteps   int     `json:"inner_steps"`
	Seed         int64   `json:"seed"`
	SingleSSIM   float64 `json:"single_ssim"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func IndexEntry(record model.EvaluationRecord) RunIndexEntry {
	entry := RunIndexEntry{
		RunID:        record.RunID,
		ModelDir:     record.ModelDir,
		Checkpoint:   record.Checkpoint,
		LossFunc:     record.LossFunc,
		NumExposures: record.NumExposures,
		InnerSteps:   record.InnerSteps,
		Seed:         record.Seed,
		CreatedAtUTC: record.CreatedAtUTC,
	}
	if len(record.Modes) > 0 {
		entry.SingleSSIM = record.Modes[0].MeanSSIM
	}
	return entry
}

func Summarize(mode model.ModeResult) ModeSummary {
	summary := ModeSummary{Result: mode}
	if len(mode.PerTask) == 0 {
		return summary
	}
	values := make([]float64, len(mode.PerTask))
	for i, task := range mode.PerTask {
		values[i] = task.SSIM
	}
	summary.StdSSIM = stat.PopStdDev(values, nil)
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	summary.MinSSIM = sorted[0]
	summary.MaxSSIM = sorted[len(sorted)-1]
	return summary
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Record.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Record.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	summaries := make([]ModeSummary, 0, len(artifacts.Record.Modes))
	for _, mode := range artifacts.Record.Modes {
		summaries = append(summaries, Summarize(mode))
	}
	if err := writeJSON(filepath.Join(runDir, metricsFile), summaries); err != nil {
		return "", err
	}
	if err := writeTaskSeries(filepath.Join(runDir, tasksFile), artifacts.Record.Modes); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	for _, file := range []string{configFile, metricsFile, tasksFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunMetrics(baseDir, runID string) ([]ModeSummary, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, metricsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var summaries []ModeSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, false, err
	}
	return summaries, true, nil
}

// ReadTaskSeries returns the per-task rows of tasks.csv keyed by mode.
func ReadTaskSeries(baseDir, runID string) (map[string][]model.TaskMetric, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, tasksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return map[string][]model.TaskMetric{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 6 {
		return nil, false, fmt.Errorf("task series header must have at least 6 columns")
	}

	series := make(map[string][]model.TaskMetric)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		metric, err := parseTaskRow(record)
		if err != nil {
			return nil, false, err
		}
		series[record[0]] = append(series[record[0]], metric)
	}
	return series, true, nil
}

func writeTaskSeries(path string, modes []model.ModeResult) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"mode", "task", "scene", "query", "ssim", "psnr"}); err != nil {
		return err
	}
	for _, mode := range modes {
		for _, task := range mode.PerTask {
			query := make([]string, len(task.Query))
			for i, exposure := range task.Query {
				query[i] = strconv.Itoa(exposure)
			}
			if err := writer.Write([]string{
				mode.Mode,
				strconv.Itoa(task.Index),
				strconv.Itoa(task.Scene),
				strings.Join(query, " "),
				strconv.FormatFloat(task.SSIM, 'f', -1, 64),
				strconv.FormatFloat(task.PSNR, 'f', -1, 64),
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func parseTaskRow(record []string) (model.TaskMetric, error) {
	if len(record) < 6 {
		return model.TaskMetric{}, fmt.Errorf("task series row must have at least 6 columns")
	}
	index, err := strconv.Atoi(record[1])
	if err != nil {
		return model.TaskMetric{}, err
	}
	scene, err := strconv.Atoi(record[2])
	if err != nil {
		return model.TaskMetric{}, err
	}
	var query []int
	for _, field := range strings.Fields(record[3]) {
		exposure, err := strconv.Atoi(field)
		if err != nil {
			return model.TaskMetric{}, err
		}
		query = append(query, exposure)
	}
	ssim, err := strconv.ParseFloat(record[4], 64)
	if err != nil {
		return model.TaskMetric{}, err
	}
	psnr, err := strconv.ParseFloat(record[5], 64)
	if err != nil {
		return model.TaskMetric{}, err
	}
	return model.TaskMetric{Index: index, Scene: scene, Query: query, SSIM: ssim, PSNR: psnr}, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
