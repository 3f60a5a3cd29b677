package commands

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/pipeline"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// PrintHeader prints a formatted command header
func PrintHeader(title string, fields [][2]string) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  %s\n", title)
	PrintSeparator()
	for _, f := range fields {
		fmt.Printf("  %-10s: %s\n", f[0], f[1])
	}
	PrintSeparator()
}

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("⚠️  %s\n", message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	fmt.Printf("ℹ️  %s\n", message)
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	for i := 0; i < totalWidth; i++ {
		fmt.Print("─")
	}
	fmt.Println()
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

// PrintFailure prints a command failure to stderr. Stage failures name
// the stage and the offending range.
func PrintFailure(err error) {
	var se *contracts.StageError
	if errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "❌ stage %s failed", se.Stage)
		if !se.Range.IsZero() {
			fmt.Fprintf(os.Stderr, " for %s", se.Range)
		}
		fmt.Fprintf(os.Stderr, "\n   %v\n", se.Err)
		return
	}
	fmt.Fprintf(os.Stderr, "❌ %v\n", err)
}

// printStages prints the stage results of a run
func printStages(rec *contracts.RunRecord) {
	widths := []int{12, 8, 10, 10, 10}
	PrintTableHeader([]string{"STAGE", "OK", "IN", "OUT", "TIME"}, widths)
	for _, s := range rec.Stages {
		ok := "yes"
		if !s.Success {
			ok = "NO"
		}
		PrintTableRow([]string{
			string(s.Stage), ok,
			fmt.Sprint(s.InputCount), fmt.Sprint(s.OutputCount),
			(time.Duration(s.Duration) * time.Millisecond).String(),
		}, widths)
	}
}

// printRunResult prints the summary of a pipeline run
func printRunResult(res *pipeline.RunResult) {
	if res == nil || res.Record == nil {
		return
	}
	fmt.Println()
	printStages(res.Record)

	if ds := res.Dataset; ds != nil {
		fmt.Println()
		PrintKeyValue("train", fmt.Sprintf("%d rows", len(ds.Train)), 10)
		PrintKeyValue("validation", fmt.Sprintf("%d rows", len(ds.Validation)), 10)
		PrintKeyValue("test", fmt.Sprintf("%d rows", len(ds.Test)), 10)
		dropped := ds.DroppedByReason()
		reasons := make([]string, 0, len(dropped))
		for r := range dropped {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			PrintKeyValue("dropped", fmt.Sprintf("%s: %d", r, dropped[r]), 10)
		}
	}

	if art := res.Artifact; art != nil {
		m := art.Manifest
		fmt.Println()
		PrintKeyValue("alpha", fmt.Sprintf("%g", m.Hyperparameters.Alpha), 10)
		PrintKeyValue("MAE", fmt.Sprintf("%.2f EUR/MWh (baseline %.2f)", m.Metrics.MAE, m.Baseline.MAE), 10)
		PrintKeyValue("RMSE", fmt.Sprintf("%.2f EUR/MWh", m.Metrics.RMSE), 10)
		PrintKeyValue("direction", fmt.Sprintf("%.1f%%", m.Metrics.DirectionalAccuracy*100), 10)
		for i, imp := range m.Importance {
			if i == 5 {
				break
			}
			PrintKeyValue(fmt.Sprintf("#%d", imp.Rank), fmt.Sprintf("%s (ΔMAE %.2f)", imp.Feature, imp.PermutationDelta), 10)
		}
		fmt.Println()
		PrintSuccess("Artifact written to " + res.Record.ArtifactDir)
		if !m.BeatsBaseline() {
			PrintWarning("Model does not beat the naive baseline (same hour yesterday)")
		}
	}
}
