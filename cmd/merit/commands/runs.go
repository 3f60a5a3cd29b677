package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wonny/meritorder/internal/registry"
)

// runsCmd lists recorded pipeline runs
var runsCmd = &cobra.Command{
	Use:   "runs [run_id]",
	Short: "실행 이력 조회",
	Long: `<DATA_DIR>/runs 에 기록된 실행 이력을 보여줍니다.
run_id 를 주면 단계별 결과를 출력합니다.

Example:
  go run ./cmd/merit runs
  go run ./cmd/merit runs 2b0c6c9e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

var runsLimit int

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	reg := registry.NewFileRegistry(filepath.Join(a.cfg.DataDir, "runs"))

	if len(args) == 1 {
		run, err := reg.GetRun(args[0])
		if err != nil {
			return err
		}
		PrintHeader("Run "+run.ID, [][2]string{
			{"Command", run.Command},
			{"Status", string(run.Status)},
			{"Window", run.Window.String()},
			{"Config", run.ConfigHash},
		})
		printStages(run)
		if run.Error != "" {
			fmt.Println()
			PrintWarning(run.Error)
		}
		return nil
	}

	runs, err := reg.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		PrintInfo("No runs recorded yet")
		return nil
	}
	if runsLimit > 0 && len(runs) > runsLimit {
		runs = runs[:runsLimit]
	}

	widths := []int{36, 14, 10, 12, 10}
	PrintTableHeader([]string{"RUN", "COMMAND", "STATUS", "LAST STAGE", "MAE"}, widths)
	for _, r := range runs {
		mae := "-"
		if r.Metrics != nil {
			mae = fmt.Sprintf("%.2f", r.Metrics.MAE)
		}
		PrintTableRow([]string{r.ID, r.Command, string(r.Status), string(r.LastStage), mae}, widths)
	}
	return nil
}
