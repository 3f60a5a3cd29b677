package registry

import (
	"context"
	"errors"

	"github.com/wonny/meritorder/internal/contracts"
)

// Multi forwards run events to several recorders.
// Every recorder is called; errors are joined.
type Multi []contracts.RunRecorder

// NewMulti drops nil recorders
func NewMulti(recorders ...contracts.RunRecorder) Multi {
	var m Multi
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m Multi) StartRun(ctx context.Context, run *contracts.RunRecord) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.StartRun(ctx, run))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordStage(ctx context.Context, runID string, result contracts.StageResult) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordStage(ctx, runID, result))
	}
	return errors.Join(errs...)
}

func (m Multi) FinishRun(ctx context.Context, run *contracts.RunRecord) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.FinishRun(ctx, run))
	}
	return errors.Join(errs...)
}
