package pipeline

import "path/filepath"

// Stage output files
const (
	HourlyFile   = "hourly.csv"
	FeaturesFile = "features.csv"
	SplitsFile   = "splits.json"
	QualityFile  = "quality.json"
)

// Paths is the on-disk layout of one study
type Paths struct {
	StudyDir    string // <DATA_DIR>/<study_id>
	ArtifactDir string // <ARTIFACT_DIR>
}

// NewPaths returns the layout for a study
func NewPaths(dataDir, artifactDir, studyID string) Paths {
	return Paths{
		StudyDir:    filepath.Join(dataDir, studyID),
		ArtifactDir: artifactDir,
	}
}

func (p Paths) Hourly() string   { return filepath.Join(p.StudyDir, HourlyFile) }
func (p Paths) Features() string { return filepath.Join(p.StudyDir, FeaturesFile) }
func (p Paths) Splits() string   { return filepath.Join(p.StudyDir, SplitsFile) }
func (p Paths) Quality() string  { return filepath.Join(p.StudyDir, QualityFile) }

// Run returns the artifact directory of a run
func (p Paths) Run(runID string) string {
	return filepath.Join(p.ArtifactDir, runID)
}
