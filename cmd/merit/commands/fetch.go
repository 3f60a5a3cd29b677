package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/meritorder/internal/aligner"
	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/pipelineconfig"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "SMARD 시계열 수집 (캐시 채우기)",
	Long: `스터디 윈도우의 모든 시계열을 SMARD에서 받아 캐시에 저장합니다.

이 명령어는:
- 메트릭별 청크 인덱스 조회
- 캐시에 없는 청크만 다운로드 (재실행 시 추가 요청 없음)
- 아직 갱신 중인 최신 청크는 캐시하지 않음

Example:
  go run ./cmd/merit fetch
  go run ./cmd/merit fetch --from 2024-01-01 --to 2024-03-31`,
	RunE: runFetch,
}

var (
	fetchFrom string
	fetchTo   string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "first local day (YYYY-MM-DD), default: study window")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "last local day (YYYY-MM-DD), default: study window")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.study.Source.Kind != pipelineconfig.SourceSMARD {
		return fmt.Errorf("fetch needs source.kind %q, study uses %q (use import-csv)", pipelineconfig.SourceSMARD, a.study.Source.Kind)
	}

	window, err := fetchWindow(a.study)
	if err != nil {
		return err
	}
	metricsList, err := a.study.Metrics()
	if err != nil {
		return err
	}

	PrintHeader("SMARD Fetch", [][2]string{
		{"Study", a.study.Meta.StudyID},
		{"Window", window.String()},
		{"Metrics", fmt.Sprint(len(metricsList))},
		{"Cache", a.cfg.CacheDir},
	})

	f, err := a.smardFetcher(ctx, false)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := f.Run(ctx, contracts.FetchRequest{Metrics: metricsList, Start: window.Start, End: window.End})
	if err != nil {
		return &contracts.StageError{Stage: contracts.StageFetching, Range: window, Err: err}
	}

	fmt.Println()
	widths := []int{16, 10, 10}
	PrintTableHeader([]string{"METRIC", "POINTS", "PRESENT"}, widths)
	for i := range res.Series {
		s := &res.Series[i]
		PrintTableRow([]string{string(s.Metric), fmt.Sprint(len(s.Points)), fmt.Sprint(s.Present())}, widths)
	}
	fmt.Println()
	PrintKeyValue("chunks", fmt.Sprint(res.Stats.Chunks), 10)
	PrintKeyValue("cached", fmt.Sprint(res.Stats.CacheHits), 10)
	PrintKeyValue("download", fmt.Sprint(res.Stats.Downloaded), 10)
	fmt.Println()
	PrintSuccess(fmt.Sprintf("Fetch completed in %.2fs", time.Since(start).Seconds()))
	return nil
}

// fetchWindow resolves --from/--to, falling back to the study window
func fetchWindow(study *pipelineconfig.Config) (contracts.TimeRange, error) {
	loc, err := study.Location()
	if err != nil {
		return contracts.TimeRange{}, err
	}
	first, last, err := study.Window.Dates(time.Now(), loc)
	if err != nil {
		return contracts.TimeRange{}, err
	}
	if fetchFrom != "" {
		if first, err = aligner.ParseDate(fetchFrom); err != nil {
			return contracts.TimeRange{}, err
		}
	}
	if fetchTo != "" {
		if last, err = aligner.ParseDate(fetchTo); err != nil {
			return contracts.TimeRange{}, err
		}
	}
	return aligner.StudyWindow(first, last, loc)
}
