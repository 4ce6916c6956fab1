package storage

import (
	"context"

	"oodresample/internal/model"
)

// LastEpoch selects the most recent checkpoint of a run.
const LastEpoch = -1

// Store defines transaction-like persistence operations for runs, their
// per-epoch diagnostics and classifier checkpoints.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveEpochDiagnostics(ctx context.Context, runID string, diagnostics []model.EpochDiagnostics) error
	GetEpochDiagnostics(ctx context.Context, runID string) ([]model.EpochDiagnostics, bool, error)
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string, epoch int) (model.Checkpoint, bool, error)
}

// Resetter is implemented by stores that can drop all persisted state.
type Resetter interface {
	Reset(ctx context.Context) error
}
