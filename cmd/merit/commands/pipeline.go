package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/meritorder/internal/pipeline"
)

var (
	buildDatasetCmd = &cobra.Command{
		Use:   "build-dataset",
		Short: "FETCHING → SPLITTING (hourly.csv, features.csv, splits.json)",
		Long: `정렬, 피처 계산, 인과성 감사, 분할까지 실행합니다.

기본값은 캐시만 사용합니다 (먼저 fetch 실행). --online 으로 누락 청크를 받습니다.

Example:
  go run ./cmd/merit fetch
  go run ./cmd/merit build-dataset`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(pipeline.CommandBuildDataset, !buildOnline)
		},
	}

	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "features.csv + splits.json → model.json + manifest.json",
		Long: `저장된 피처 테이블과 분할 계획으로 모델을 학습/평가합니다.
데이터를 다시 받지 않습니다.

Example:
  go run ./cmd/merit train`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(pipeline.CommandTrain, true)
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "전체 파이프라인 실행 (FETCHING → EVALUATED)",
		Long: `모든 단계를 순서대로 실행합니다. 한 단계라도 실패하면 중단하고
단계와 구간을 출력한 뒤 종료 코드 1로 끝납니다.

Example:
  go run ./cmd/merit run
  go run ./cmd/merit run --offline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(pipeline.CommandRun, runOffline)
		},
	}
)

var (
	buildOnline bool
	runOffline  bool
)

func init() {
	rootCmd.AddCommand(buildDatasetCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(runCmd)

	buildDatasetCmd.Flags().BoolVar(&buildOnline, "online", false, "download chunks missing from the cache")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "serve chunks only from the cache")
}

func runPipeline(command pipeline.Command, offline bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.orchestrator(ctx, offline)
	if err != nil {
		return err
	}

	window, err := orch.Window()
	if err != nil {
		return err
	}
	PrintHeader("merit "+string(command), [][2]string{
		{"Study", a.study.Meta.StudyID},
		{"Window", window.String()},
		{"Source", a.study.Source.Kind},
		{"Config", orch.ConfigHash()[:12]},
		{"Data", orch.Paths().StudyDir},
	})

	res, err := orch.Run(ctx, command)
	printRunResult(res)
	if err != nil {
		return err
	}

	if res.Artifact == nil {
		PrintSuccess("Dataset written to " + orch.Paths().StudyDir)
	}
	return nil
}
