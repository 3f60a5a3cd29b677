package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/fileutil"
)

// Artifact file names
const (
	ModelFile    = "model.json"
	ManifestFile = "manifest.json"
)

// ErrMissingManifest is returned when a model has no manifest next to it
var ErrMissingManifest = errors.New("model artifact has no manifest")

// Model is the persisted form of a fitted ridge model
type Model struct {
	Type     string   `json:"type"`
	Features []string `json:"features"`
	Target   string   `json:"target"`
	Ridge    Ridge    `json:"ridge"`
}

// PredictRow predicts the target of one feature row
func (m *Model) PredictRow(row *contracts.FeatureRow) (float64, error) {
	x := make([]float64, len(m.Features))
	for j, col := range m.Features {
		v, ok := row.Value(col)
		if !ok {
			return 0, &contracts.SchemaMismatch{Expected: m.Features, Missing: []string{col}}
		}
		x[j] = v
	}
	return m.Ridge.Predict(x), nil
}

// Save writes manifest.json and model.json into dir. A model file is
// never left behind without its manifest.
func Save(dir string, a *Artifact) error {
	manifest, err := json.MarshalIndent(a.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	model, err := json.MarshalIndent(a.Model, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}

	if err := fileutil.WriteFileAtomic(filepath.Join(dir, ManifestFile), manifest); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, ModelFile), model); err != nil {
		os.Remove(filepath.Join(dir, ManifestFile))
		return err
	}
	return nil
}

// Load reads an artifact and checks the model matches its manifest schema
func Load(dir string) (*Artifact, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", dir, err)
	}

	if err := manifest.Schema.Validate(m.Features); err != nil {
		return nil, err
	}
	if len(m.Ridge.Coefficients) != len(m.Features) {
		return nil, fmt.Errorf("model %s: %d coefficients for %d features", dir, len(m.Ridge.Coefficients), len(m.Features))
	}
	return &Artifact{Model: &m, Manifest: *manifest}, nil
}

// LoadManifest reads manifest.json from dir
func LoadManifest(dir string) (*contracts.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingManifest, dir)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m contracts.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", dir, err)
	}
	return &m, nil
}
