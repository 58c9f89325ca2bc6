package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Architecture describes the base network a parameter set was produced for.
type Architecture struct {
	Channels   int    `json:"channels"`
	Filters    int    `json:"filters"`
	Activation string `json:"activation"`
}

// Checkpoint is the persisted state of a trained meta-model.
type Checkpoint struct {
	VersionedRecord
	Epoch        int          `json:"epoch"`
	Performance  float64      `json:"performance"`
	TaskLR       float64      `json:"task_lr,omitempty"`
	Architecture Architecture `json:"architecture"`
	Params       Params       `json:"params"`
}

type Task struct {
	Scene   int   `json:"scene"`
	Support []int `json:"support,omitempty"`
	Query   []int `json:"query"`
}

type TaskMetric struct {
	Index int     `json:"index"`
	Scene int     `json:"scene"`
	Query []int   `json:"query"`
	SSIM  float64 `json:"ssim"`
	PSNR  float64 `json:"psnr"`
}

type ModeResult struct {
	Mode     string       `json:"mode"`
	Tasks    int          `json:"tasks"`
	MeanSSIM float64      `json:"mean_ssim"`
	MeanPSNR float64      `json:"mean_psnr"`
	PerTask  []TaskMetric `json:"per_task,omitempty"`
}

// EvaluationRecord is one completed meta-test run as kept in the result store.
type EvaluationRecord struct {
	VersionedRecord
	RunID           string       `json:"run_id"`
	ModelDir        string       `json:"model_dir"`
	Checkpoint      string       `json:"checkpoint"`
	CheckpointEpoch int          `json:"checkpoint_epoch"`
	LossFunc        string       `json:"loss_func"`
	NumExposures    int          `json:"num_exposures"`
	InnerSteps      int          `json:"inner_steps"`
	TaskLR          float64      `json:"task_lr"`
	Seed            int64        `json:"seed"`
	Device          string       `json:"device"`
	Modes           []ModeResult `json:"modes"`
	CreatedAtUTC    string       `json:"created_at_utc"`
}
