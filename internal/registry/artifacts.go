package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/model"
)

// ErrFileNotServed is returned for artifact files outside the allow list
var ErrFileNotServed = errors.New("artifact file not served")

// servedFiles are the artifact files the report server exposes
var servedFiles = map[string]bool{
	model.ModelFile:    true,
	model.ManifestFile: true,
}

// ArtifactStore reads model artifacts from <ARTIFACT_DIR>/<run id>/
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates a reader over dir
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

// ListRuns returns run ids that have a manifest, sorted
func (s *ArtifactStore) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, e.Name(), model.ManifestFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadManifest loads the manifest of a run
func (s *ArtifactStore) ReadManifest(runID string) (*contracts.Manifest, error) {
	if !validRunID(runID) {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	m, err := model.LoadManifest(filepath.Join(s.dir, runID))
	if errors.Is(err, model.ErrMissingManifest) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return m, err
}

// OpenFile opens model.json or manifest.json of a run
func (s *ArtifactStore) OpenFile(runID, name string) (io.ReadCloser, error) {
	if !servedFiles[name] {
		return nil, fmt.Errorf("%w: %s", ErrFileNotServed, name)
	}
	if !validRunID(runID) {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	f, err := os.Open(filepath.Join(s.dir, runID, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrRunNotFound, runID, name)
	}
	return f, err
}
