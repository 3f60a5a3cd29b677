package pipelineconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wonny/meritorder/internal/contracts"
)

var validate = validator.New()

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string
	Message string
}

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return err
	}

	// === Meta ===
	if _, err := cfg.Location(); err != nil {
		return ValidationError{"meta.timezone", err.Error()}
	}

	// === Window ===
	if cfg.Window.End == "" && cfg.Window.RollingDays == 0 {
		return ValidationError{"window", "end or rolling_days is required"}
	}
	if cfg.Window.End != "" {
		if _, _, err := cfg.Window.Dates(time.Now(), time.UTC); err != nil {
			return ValidationError{"window", err.Error()}
		}
	}

	// === Source ===
	metrics, err := cfg.Metrics()
	if err != nil {
		return ValidationError{"source.metrics", err.Error()}
	}
	seen := make(map[contracts.Metric]bool, len(metrics))
	for _, m := range metrics {
		if seen[m] {
			return ValidationError{"source.metrics", fmt.Sprintf("duplicate metric %s", m)}
		}
		seen[m] = true
	}

	// === Cleaning ===
	required, err := cfg.Required()
	if err != nil {
		return ValidationError{"cleaning.required_metrics", err.Error()}
	}
	for _, m := range required {
		if !seen[m] {
			return ValidationError{"cleaning.required_metrics", fmt.Sprintf("%s is required but not fetched", m)}
		}
	}

	// === Features ===
	if err := validateFeatureColumns(cfg.Features.Columns, metrics); err != nil {
		return err
	}

	// === Split ===
	if (cfg.Split.TrainEnd == "") != (cfg.Split.ValidationEnd == "") {
		return ValidationError{"split", "train_end and validation_end must be set together"}
	}
	if cfg.Split.UsesBoundaries() {
		trainEnd, validationEnd, err := cfg.Split.Boundaries(time.UTC)
		if err != nil {
			return ValidationError{"split", err.Error()}
		}
		if !trainEnd.Before(validationEnd) {
			return ValidationError{"split", "train_end must be before validation_end"}
		}
	} else if cfg.Split.TrainRatio+cfg.Split.ValidationRatio >= 1 {
		return ValidationError{"split", fmt.Sprintf("train_ratio + validation_ratio must be < 1, got %.3f",
			cfg.Split.TrainRatio+cfg.Split.ValidationRatio)}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	first, last, err := cfg.Window.Dates(time.Now(), time.UTC)
	if err == nil && last.Sub(first) < 60*24*time.Hour {
		warnings = append(warnings, Warning{
			Code:    "SHORT_WINDOW",
			Message: "window < 60 days: 168h warm-up removes a large share of rows",
		})
	}

	if cfg.Cleaning.MaxInterpolationGapHours > 6 {
		warnings = append(warnings, Warning{
			Code:    "LONG_INTERPOLATION",
			Message: "interpolating gaps > 6h hides real outages",
		})
	}

	hasOLS := false
	for _, a := range cfg.Model.AlphaGrid {
		if a == 0 {
			hasOLS = true
		}
	}
	if !hasOLS {
		warnings = append(warnings, Warning{
			Code:    "NO_OLS",
			Message: "alpha_grid has no 0: unregularized fit is never compared",
		})
	}

	return warnings
}

// === Helper Functions ===

func validateFeatureColumns(columns []string, metrics []contracts.Metric) error {
	var sources []contracts.Metric
	for _, m := range metrics {
		if m.IsGeneration() {
			sources = append(sources, m)
		}
	}
	allowed := make(map[string]bool)
	for _, c := range contracts.FeatureTableColumns(sources) {
		allowed[c] = true
	}
	for _, c := range []string{contracts.ColTimestamp, contracts.TargetColumn, contracts.ColIncomplete, contracts.ColIncompleteReason} {
		delete(allowed, c)
	}

	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		field := fmt.Sprintf("features.columns[%d]", i)
		if !allowed[c] {
			return ValidationError{field, fmt.Sprintf("%q is not a feature column of this study", c)}
		}
		if seen[c] {
			return ValidationError{field, fmt.Sprintf("duplicate column %q", c)}
		}
		seen[c] = true
	}
	return nil
}

func fieldError(fe validator.FieldError) ValidationError {
	field := strings.ToLower(fe.Namespace())
	field = strings.TrimPrefix(field, "config.")
	switch fe.Tag() {
	case "required":
		return ValidationError{field, "required"}
	case "oneof":
		return ValidationError{field, "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")}
	case "gt", "gte", "lt", "lte", "min", "max":
		return ValidationError{field, fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())}
	}
	return ValidationError{field, "failed validation: " + fe.Tag()}
}
