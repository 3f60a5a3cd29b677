package contracts

import (
	"context"
	"io"
)

// SeriesFetcher retrieves raw series (FETCHING)
// ⭐ SSOT: Fetcher 인터페이스
type SeriesFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]RawSeries, error)
}

// RunRecorder persists run progress (optional, Postgres)
// ⭐ SSOT: 실행 이력 저장 인터페이스
type RunRecorder interface {
	StartRun(ctx context.Context, run *RunRecord) error
	RecordStage(ctx context.Context, runID string, result StageResult) error
	FinishRun(ctx context.Context, run *RunRecord) error
}

// ArtifactReader reads persisted run artifacts (report server)
type ArtifactReader interface {
	ListRuns() ([]string, error)
	ReadManifest(runID string) (*Manifest, error)
	OpenFile(runID, name string) (io.ReadCloser, error)
}
