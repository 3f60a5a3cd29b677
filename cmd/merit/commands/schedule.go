package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/meritorder/internal/scheduler"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "정기 재학습 스케줄러 시작",
	Long: `schedule.cron 에 따라 전체 파이프라인을 반복 실행합니다.
rolling_days 윈도우는 실행 시점마다 다시 계산됩니다.

SMARD 수집 실패(FetchError)만 재시도하고, 정렬/스키마/누수 오류는
같은 입력에서 반복되므로 재시도하지 않습니다.

스케줄러는 Ctrl+C로 종료할 수 있습니다.

Example:
  go run ./cmd/merit schedule
  go run ./cmd/merit schedule --now --serve`,
	RunE: runSchedule,
}

var (
	scheduleNow   bool
	scheduleServe bool
)

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "run the pipeline once immediately")
	scheduleCmd.Flags().BoolVar(&scheduleServe, "serve", false, "also start the report server")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if !a.study.Schedule.Enabled {
		PrintWarning("schedule.enabled is false in the study definition; starting anyway")
	}

	orch, err := a.orchestrator(context.Background(), false)
	if err != nil {
		return err
	}

	opts := scheduler.DefaultOptions()
	opts.Retryable = scheduler.RetryFetchFailures
	sched := scheduler.New(a.log, opts)

	job := scheduler.NewPipelineJob(a.study.Meta.StudyID, a.study.Schedule.Cron, orch, a.log)
	if err := sched.AddJob(job); err != nil {
		return err
	}

	sched.Start()
	defer sched.Stop()

	next, _ := sched.NextRun(job.Name())
	PrintHeader("merit scheduler", [][2]string{
		{"Study", a.study.Meta.StudyID},
		{"Job", job.Name()},
		{"Cron", job.Schedule()},
		{"Next run", next.Format(time.RFC3339)},
	})

	errCh := make(chan error, 1)
	switch {
	case scheduleServe:
		server := newReportServer(a, sched, a.metrics)
		go func() { errCh <- server.Start() }()
		defer shutdownQuietly(server.Shutdown)
		fmt.Printf("✅ Report server running on http://localhost:%s\n", a.cfg.Port)
	case a.cfg.MetricsEnabled:
		ms := &http.Server{Addr: ":" + a.cfg.MetricsPort, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer shutdownQuietly(ms.Shutdown)
		a.log.WithField("port", a.cfg.MetricsPort).Info("Serving metrics")
	}

	if scheduleNow {
		go func() {
			res, err := sched.RunJob(job.Name())
			if err != nil || !res.Success {
				a.log.WithField("error", res.Error).Warn("Immediate run failed")
			}
		}()
	}

	fmt.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
		fmt.Println("\nShutting down scheduler...")
		return nil
	}
}

func shutdownQuietly(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
