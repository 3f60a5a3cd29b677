package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/fileutil"
)

// ErrRunNotFound is returned for unknown run ids
var ErrRunNotFound = errors.New("run not found")

// FileRegistry stores one JSON record per run under dir
// ⭐ SSOT: DB 없이도 실행 이력은 항상 파일로 남김
type FileRegistry struct {
	dir string
	mu  sync.Mutex
}

// NewFileRegistry creates a registry rooted at dir (<DATA_DIR>/runs)
func NewFileRegistry(dir string) *FileRegistry {
	return &FileRegistry{dir: dir}
}

func (r *FileRegistry) path(runID string) string {
	return filepath.Join(r.dir, runID+".json")
}

// StartRun writes the initial record
func (r *FileRegistry) StartRun(ctx context.Context, run *contracts.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(run)
}

// RecordStage appends a stage result to a stored run
func (r *FileRegistry) RecordStage(ctx context.Context, runID string, result contracts.StageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.read(runID)
	if err != nil {
		return err
	}
	run.Stages = append(run.Stages, result)
	run.LastStage = result.Stage
	return r.write(run)
}

// FinishRun overwrites the record with its final state
func (r *FileRegistry) FinishRun(ctx context.Context, run *contracts.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(run)
}

// GetRun returns one stored run
func (r *FileRegistry) GetRun(runID string) (*contracts.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(runID)
}

// ListRuns returns stored runs, newest first
func (r *FileRegistry) ListRuns() ([]contracts.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]contracts.RunRecord, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		run, err := r.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}

func (r *FileRegistry) read(runID string) (*contracts.RunRecord, error) {
	if !validRunID(runID) {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	data, err := os.ReadFile(r.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	var run contracts.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &run, nil
}

func (r *FileRegistry) write(run *contracts.RunRecord) error {
	if !validRunID(run.ID) {
		return fmt.Errorf("invalid run id %q", run.ID)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	return fileutil.WriteFileAtomic(r.path(run.ID), data)
}

// validRunID rejects ids that could escape the registry directory
func validRunID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
