package pipelineconfig

import (
	"fmt"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
)

// DateLayout is the layout of every date in the study definition
const DateLayout = "2006-01-02"

// Source kinds
const (
	SourceSMARD = "smard"
	SourceCSV   = "csv"
)

// Config is one study definition (configs/pipeline.yaml)
// ⭐ SSOT: 파이프라인 실행 파라미터는 이 구조체에서만 읽음
type Config struct {
	Meta     Meta     `yaml:"meta" json:"meta"`
	Window   Window   `yaml:"window" json:"window"`
	Source   Source   `yaml:"source" json:"source"`
	Cleaning Cleaning `yaml:"cleaning" json:"cleaning"`
	Features Features `yaml:"features" json:"features"`
	Split    Split    `yaml:"split" json:"split"`
	Model    Model    `yaml:"model" json:"model"`
	Schedule Schedule `yaml:"schedule" json:"schedule"`
}

// Meta 메타 정보
type Meta struct {
	StudyID  string `yaml:"study_id" json:"study_id" validate:"required"`
	Version  string `yaml:"version" json:"version" default:"1"`
	Timezone string `yaml:"timezone" json:"timezone" default:"Europe/Berlin" validate:"required"`
}

// Window is the study range in local calendar days, both inclusive.
// With RollingDays set and End empty the window ends yesterday.
type Window struct {
	Start       string `yaml:"start" json:"start"`
	End         string `yaml:"end" json:"end"`
	RollingDays int    `yaml:"rolling_days" json:"rolling_days" validate:"gte=0"`
}

// Source selects where raw series come from
type Source struct {
	Kind      string   `yaml:"kind" json:"kind" default:"smard" validate:"oneof=smard csv"`
	Metrics   []string `yaml:"metrics" json:"metrics" validate:"required,min=1,dive,required"`
	ImportDir string   `yaml:"import_dir" json:"import_dir"` // csv only, default <DATA_DIR>/imported
}

// Cleaning 결측/보간 정책
type Cleaning struct {
	MaxInterpolationGapHours int      `yaml:"max_interpolation_gap_hours" json:"max_interpolation_gap_hours" default:"2" validate:"gte=0,lte=24"`
	MinCoverage              float64  `yaml:"min_coverage" json:"min_coverage" default:"0.9" validate:"gt=0,lte=1"`
	RequiredMetrics          []string `yaml:"required_metrics" json:"required_metrics"`
}

// Features selects model inputs; empty Columns means the default set
type Features struct {
	Columns   []string `yaml:"columns" json:"columns"`
	AuditCuts int      `yaml:"audit_cuts" json:"audit_cuts" default:"5" validate:"gte=0,lte=100"`
}

// Split selects split boundaries (local dates) or ratios
type Split struct {
	TrainEnd        string  `yaml:"train_end" json:"train_end"`
	ValidationEnd   string  `yaml:"validation_end" json:"validation_end"`
	TrainRatio      float64 `yaml:"train_ratio" json:"train_ratio" default:"0.7" validate:"gt=0,lt=1"`
	ValidationRatio float64 `yaml:"validation_ratio" json:"validation_ratio" default:"0.15" validate:"gt=0,lt=1"`
}

// Model 하이퍼파라미터 탐색 공간
type Model struct {
	AlphaGrid          []float64 `yaml:"alpha_grid" json:"alpha_grid" default:"[0,0.01,0.1,1,10,100]" validate:"min=1,dive,gte=0"`
	CVFolds            int       `yaml:"cv_folds" json:"cv_folds" default:"5" validate:"gte=1,lte=50"`
	CVMinTrainFraction float64   `yaml:"cv_min_train_fraction" json:"cv_min_train_fraction" default:"0.5" validate:"gt=0,lt=1"`
	PermutationSeed    uint64    `yaml:"permutation_seed" json:"permutation_seed" default:"42"`
}

// Schedule 정기 재학습 (robfig/cron, seconds field first)
type Schedule struct {
	Cron    string `yaml:"cron" json:"cron" default:"0 0 14 * * *"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// Location loads the study timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Meta.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Meta.Timezone, err)
	}
	return loc, nil
}

// Metrics returns the parsed source metrics
func (c *Config) Metrics() ([]contracts.Metric, error) {
	return parseMetrics(c.Source.Metrics)
}

// Required returns the metrics an hour needs to be complete
func (c *Config) Required() ([]contracts.Metric, error) {
	if len(c.Cleaning.RequiredMetrics) == 0 {
		return contracts.RequiredMetrics(), nil
	}
	return parseMetrics(c.Cleaning.RequiredMetrics)
}

// Dates resolves the first and last study day at now
func (w Window) Dates(now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if w.End == "" && w.RollingDays > 0 {
		local := now.In(loc)
		last := time.Date(local.Year(), local.Month(), local.Day()-1, 0, 0, 0, 0, time.UTC)
		return last.AddDate(0, 0, -(w.RollingDays - 1)), last, nil
	}

	first, err := time.Parse(DateLayout, w.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("window.start: %w", err)
	}
	last, err := time.Parse(DateLayout, w.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("window.end: %w", err)
	}
	if last.Before(first) {
		return time.Time{}, time.Time{}, fmt.Errorf("window.end %s is before window.start %s", w.End, w.Start)
	}
	return first, last, nil
}

// UsesBoundaries reports whether explicit split dates are configured
func (s Split) UsesBoundaries() bool {
	return s.TrainEnd != "" && s.ValidationEnd != ""
}

// Boundaries returns the first validation and first test hour in UTC:
// local midnight of the configured dates
func (s Split) Boundaries(loc *time.Location) (time.Time, time.Time, error) {
	trainEnd, err := time.ParseInLocation(DateLayout, s.TrainEnd, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("split.train_end: %w", err)
	}
	validationEnd, err := time.ParseInLocation(DateLayout, s.ValidationEnd, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("split.validation_end: %w", err)
	}
	return trainEnd.UTC(), validationEnd.UTC(), nil
}

// Schema returns the declared model schema for the given generation sources
func (c *Config) Schema(sources []contracts.Metric) contracts.Schema {
	features := c.Features.Columns
	if len(features) == 0 {
		features = contracts.DefaultFeatureColumns(sources)
	}
	return contracts.Schema{
		Features: append([]string(nil), features...),
		Target:   contracts.TargetColumn,
	}
}

func parseMetrics(names []string) ([]contracts.Metric, error) {
	out := make([]contracts.Metric, 0, len(names))
	for _, name := range names {
		m, err := contracts.ParseMetric(name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
