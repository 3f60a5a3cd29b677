package commands

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/csvimport"
)

// importCSVCmd represents the import-csv command
var importCSVCmd = &cobra.Command{
	Use:   "import-csv [file...]",
	Short: "SMARD CSV 내보내기 파일 가져오기",
	Long: `smard.de에서 내려받은 CSV(';' 구분, 독일식 숫자)를 파싱해 저장합니다.

source.kind: csv 스터디는 이 저장소에서 시계열을 읽습니다.
같은 메트릭을 여러 번 가져오면 타임스탬프 기준으로 병합됩니다.

Example:
  go run ./cmd/merit import-csv exports/Realisierte_Erzeugung_2023.csv exports/Großhandelspreise_2023.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImportCSV,
}

func init() {
	rootCmd.AddCommand(importCSVCmd)
}

func runImportCSV(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	loc, err := a.study.Location()
	if err != nil {
		return err
	}
	store := csvimport.NewStore(a.importDir(), a.log)

	PrintHeader("SMARD CSV Import", [][2]string{
		{"Files", fmt.Sprint(len(args))},
		{"Store", a.importDir()},
	})

	imported := map[contracts.Metric]int{}
	for _, path := range args {
		parsed, err := parseCSVFile(path, loc, a.regionFor)
		if err != nil {
			return err
		}
		if err := store.Save(parsed.Series); err != nil {
			return fmt.Errorf("store %s: %w", path, err)
		}
		for _, s := range parsed.Series {
			imported[s.Metric] += len(s.Points)
		}
		a.log.WithFields(map[string]interface{}{
			"file":       path,
			"rows":       parsed.Rows,
			"series":     len(parsed.Series),
			"resolution": parsed.Resolution,
			"bad_cells":  parsed.BadCells,
			"ignored":    parsed.Ignored,
		}).Info("CSV imported")
		if parsed.BadCells > 0 {
			PrintWarning(fmt.Sprintf("%s: %d unparseable cells stored as missing", path, parsed.BadCells))
		}
	}

	metricsSeen := make([]string, 0, len(imported))
	for m := range imported {
		metricsSeen = append(metricsSeen, string(m))
	}
	sort.Strings(metricsSeen)

	fmt.Println()
	widths := []int{16, 10}
	PrintTableHeader([]string{"METRIC", "POINTS"}, widths)
	for _, m := range metricsSeen {
		PrintTableRow([]string{m, fmt.Sprint(imported[contracts.Metric(m)])}, widths)
	}
	fmt.Println()
	PrintSuccess(fmt.Sprintf("Imported %d metrics", len(metricsSeen)))
	return nil
}

func parseCSVFile(path string, loc *time.Location, regionFor func(contracts.Metric) string) (*csvimport.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	parsed, err := csvimport.Parse(f, loc, regionFor)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return parsed, nil
}
