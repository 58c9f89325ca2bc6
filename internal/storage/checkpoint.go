package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"metahdr/internal/model"
)

const (
	BestCheckpointFile = "model_best.ckpt"
	LastCheckpointFile = "model_last.ckpt"
)

// CheckpointPath selects the best or the last checkpoint of a training run.
func CheckpointPath(modelDir string, useBest bool) string {
	if useBest {
		return filepath.Join(modelDir, BestCheckpointFile)
	}
	return filepath.Join(modelDir, LastCheckpointFile)
}

// ReadCheckpoint loads a checkpoint file and reports its size in bytes. Every
// failure wraps model.ErrCheckpoint.
func ReadCheckpoint(path string) (model.Checkpoint, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Checkpoint{}, 0, fmt.Errorf("%w: read %s: %v", model.ErrCheckpoint, path, err)
	}
	checkpoint, err := DecodeCheckpoint(data)
	if err != nil {
		return model.Checkpoint{}, 0, fmt.Errorf("%w: decode %s: %v", model.ErrCheckpoint, path, err)
	}
	return checkpoint, int64(len(data)), nil
}

func WriteCheckpoint(path string, checkpoint model.Checkpoint) error {
	if checkpoint.SchemaVersion == 0 && checkpoint.CodecVersion == 0 {
		checkpoint.VersionedRecord = CurrentVersion()
	}
	data, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
