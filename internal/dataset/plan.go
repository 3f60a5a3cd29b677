package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/fileutil"
)

// Plan is the persisted result of build-dataset (splits.json). The trainer
// rebuilds the same splits from features.csv with it and trains against
// the schema it declares.
type Plan struct {
	Schema        contracts.Schema       `json:"schema"`
	Window        contracts.TimeRange    `json:"window"`
	TrainEnd      time.Time              `json:"train_end"`
	ValidationEnd time.Time              `json:"validation_end"`
	Train         contracts.SplitSummary `json:"train"`
	Validation    contracts.SplitSummary `json:"validation"`
	Test          contracts.SplitSummary `json:"test"`
	Dropped       []Drop                 `json:"dropped"`
	ConfigHash    string                 `json:"config_hash"`
}

// Plan summarizes the dataset for persistence
func (d *Dataset) Plan(configHash string) Plan {
	return Plan{
		Schema:        d.Schema,
		Window:        d.Window,
		TrainEnd:      d.Validation[0].Timestamp,
		ValidationEnd: d.Test[0].Timestamp,
		Train:         Summary(d.Train),
		Validation:    Summary(d.Validation),
		Test:          Summary(d.Test),
		Dropped:       d.Dropped,
		ConfigHash:    configHash,
	}
}

// Apply rebuilds the planned splits and checks they match what was planned
func (b *Builder) Apply(ft *contracts.FeatureTable, plan Plan) (*Dataset, error) {
	ds, err := b.Build(ft, plan.Schema, SplitSpec{TrainEnd: plan.TrainEnd, ValidationEnd: plan.ValidationEnd})
	if err != nil {
		return nil, err
	}

	got := []int{len(ds.Train), len(ds.Validation), len(ds.Test), len(ds.Dropped)}
	want := []int{plan.Train.Rows, plan.Validation.Rows, plan.Test.Rows, len(plan.Dropped)}
	for i := range got {
		if got[i] != want[i] {
			return nil, &contracts.DataQualityError{
				Stage:     contracts.StageSplitting,
				Column:    contracts.ColTimestamp,
				Invariant: fmt.Sprintf("feature table no longer matches splits.json (rows train/validation/test/dropped %v, planned %v)", got, want),
				Count:     1,
			}
		}
	}
	return ds, nil
}

// SavePlan writes splits.json atomically
func SavePlan(path string, plan Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("encode split plan: %w", err)
	}
	return fileutil.WriteFileAtomic(path, data)
}

// LoadPlan reads splits.json
func LoadPlan(path string) (Plan, error) {
	var plan Plan
	data, err := os.ReadFile(path)
	if err != nil {
		return plan, fmt.Errorf("read split plan: %w", err)
	}
	if err := json.Unmarshal(data, &plan); err != nil {
		return plan, fmt.Errorf("decode split plan %s: %w", path, err)
	}
	return plan, nil
}
