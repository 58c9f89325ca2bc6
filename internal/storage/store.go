package storage

import (
	"context"

	"metahdr/internal/model"
)

// Store persists completed evaluation runs.
type Store interface {
	Init(ctx context.Context) error
	SaveEvaluation(ctx context.Context, record model.EvaluationRecord) error
	GetEvaluation(ctx context.Context, runID string) (model.EvaluationRecord, bool, error)
	// ListEvaluations returns records newest first.
	ListEvaluations(ctx context.Context) ([]model.EvaluationRecord, error)
}

// ModeAverage is one run's result for a single evaluation mode.
type ModeAverage struct {
	RunID    string
	Mode     string
	Tasks    int
	MeanSSIM float64
	MeanPSNR float64
}

type modeAverager interface {
	ModeAverages(ctx context.Context, mode string) ([]ModeAverage, error)
}

// ModeAverages lists the results of one mode across runs, newest first. Stores
// that index modes answer directly; others are scanned record by record.
func ModeAverages(ctx context.Context, store Store, mode string) ([]ModeAverage, error) {
	if q, ok := store.(modeAverager); ok {
		return q.ModeAverages(ctx, mode)
	}
	records, err := store.ListEvaluations(ctx)
	if err != nil {
		return nil, err
	}
	var out []ModeAverage
	for _, record := range records {
		for _, result := range record.Modes {
			if result.Mode != mode {
				continue
			}
			out = append(out, ModeAverage{
				RunID:    record.RunID,
				Mode:     result.Mode,
				Tasks:    result.Tasks,
				MeanSSIM: result.MeanSSIM,
				MeanPSNR: result.MeanPSNR,
			})
		}
	}
	return out, nil
}
