package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/meritorder/pkg/logger"
)

// Options configures retries of failed jobs
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	// Retryable decides whether a failed run is attempted again; nil retries nothing
	Retryable func(error) bool
}

// DefaultOptions allows two retries one minute apart
func DefaultOptions() Options {
	return Options{MaxRetries: 2, RetryDelay: time.Minute}
}

// Scheduler manages scheduled jobs
// ⭐ SSOT: 스케줄 관리는 이 스케줄러에서만
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	opts    Options
	jobs    map[string]Job
	entries map[string]cron.EntryID
	history map[string]*JobHistory
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a scheduler whose cron specs carry a seconds field
func New(log *logger.Logger, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:  log.WithComponent("scheduler"),
		opts:    opts,
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
		history: make(map[string]*JobHistory),
		ctx:     ctx,
		cancel:  cancel,
		sleep:   sleepCtx,
	}
	// 이전 실행이 끝나지 않았으면 이번 tick은 건너뜀
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	return s
}

// AddJob adds a job to the scheduler
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobName := job.Name()
	if _, exists := s.jobs[jobName]; exists {
		return fmt.Errorf("job %s already exists", jobName)
	}

	id, err := s.cron.AddFunc(job.Schedule(), func() {
		s.runJob(job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", jobName, err)
	}

	s.jobs[jobName] = job
	s.entries[jobName] = id
	s.history[jobName] = &JobHistory{}

	s.logger.WithFields(map[string]interface{}{
		"job":      jobName,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")

	return nil
}

// RemoveJob removes a job from the scheduler. Its history is kept.
func (s *Scheduler) RemoveJob(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.entries[jobName]
	if !exists {
		return fmt.Errorf("job %s not found", jobName)
	}

	s.cron.Remove(id)
	delete(s.jobs, jobName)
	delete(s.entries, jobName)
	s.logger.WithField("job", jobName).Info("Job removed from scheduler")

	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// NextRun returns the next activation of a job
func (s *Scheduler) NextRun(jobName string) (time.Time, error) {
	s.mu.RLock()
	id, exists := s.entries[jobName]
	s.mu.RUnlock()
	if !exists {
		return time.Time{}, fmt.Errorf("job %s not found", jobName)
	}
	return s.cron.Entry(id).Next, nil
}

// RunJob runs a specific job immediately and waits for it
func (s *Scheduler) RunJob(jobName string) (JobResult, error) {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return JobResult{}, fmt.Errorf("job %s not found", jobName)
	}
	return s.runJob(job), nil
}

// runJob executes a job, retrying failures the options allow
func (s *Scheduler) runJob(job Job) JobResult {
	s.wg.Add(1)
	defer s.wg.Done()

	jobName := job.Name()
	startTime := time.Now()
	s.logger.WithField("job", jobName).Info("Job started")

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		attempts++
		lastErr = job.Run(s.ctx)
		if lastErr == nil {
			break
		}
		if s.opts.Retryable == nil || !s.opts.Retryable(lastErr) || attempt == s.opts.MaxRetries {
			break
		}

		s.logger.WithFields(map[string]interface{}{
			"job":     jobName,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		}).Warn("Job execution failed, retrying")

		if err := s.sleep(s.ctx, s.opts.RetryDelay); err != nil {
			break
		}
	}

	endTime := time.Now()
	result := JobResult{
		JobName:   jobName,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  endTime.Sub(startTime),
		Attempts:  attempts,
		Success:   lastErr == nil,
	}
	if lastErr != nil {
		result.Error = lastErr.Error()
	}

	s.mu.Lock()
	if history, exists := s.history[jobName]; exists {
		history.AddResult(result)
	}
	s.mu.Unlock()

	fields := map[string]interface{}{
		"job":      jobName,
		"duration": result.Duration,
		"attempts": attempts,
	}
	if result.Success {
		s.logger.WithFields(fields).Info("Job completed successfully")
	} else {
		s.logger.WithFields(fields).WithError(lastErr).Error("Job failed")
	}
	return result
}

// GetJobHistory returns the history for a specific job
func (s *Scheduler) GetJobHistory(jobName string) (*JobHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, exists := s.history[jobName]
	if !exists {
		return nil, fmt.Errorf("job %s not found", jobName)
	}

	return history, nil
}

// GetJobStats returns statistics for all registered jobs
func (s *Scheduler) GetJobStats() map[string]JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]JobStats, len(s.jobs))
	for jobName, job := range s.jobs {
		history := s.history[jobName]
		failed := history.GetFailedResults()

		st := JobStats{
			JobName:             jobName,
			Schedule:            job.Schedule(),
			TotalRuns:           len(history.Results),
			SuccessCount:        len(history.Results) - len(failed),
			FailureCount:        len(failed),
			SuccessRate:         history.GetSuccessRate(),
			ConsecutiveFailures: history.ConsecutiveFailures(),
		}
		if next := s.cron.Entry(s.entries[jobName]).Next; !next.IsZero() {
			st.NextRun = &next
		}
		if latest := history.GetLatestResults(1); len(latest) == 1 {
			last := latest[0]
			st.LastRun = &last.StartTime
			if !last.Success {
				st.LastError = last.Error
			}
		}
		stats[jobName] = st
	}

	return stats
}

// JobStats represents statistics for a job
type JobStats struct {
	JobName      string  `json:"job_name"`
	Schedule     string  `json:"schedule"`
	TotalRuns    int     `json:"total_runs"`
	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	SuccessRate  float64 `json:"success_rate"`
	// ConsecutiveFailures counts failed runs since the last success
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRun             *time.Time `json:"last_run,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	NextRun             *time.Time `json:"next_run,omitempty"`
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cronLogger adapts the project logger to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
