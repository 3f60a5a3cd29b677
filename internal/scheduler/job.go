package scheduler

import (
	"context"
	"time"
)

// Job is a unit of scheduled work
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	Name() string
	Run(ctx context.Context) error
	// Schedule is a cron expression with a leading seconds field,
	// e.g. "0 0 14 * * *" for 14:00 daily, or a descriptor like "@daily"
	Schedule() string
}

// JobResult is one execution of a job, retries included
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

const maxHistory = 100

// JobHistory keeps the latest executions of a job, oldest first
type JobHistory struct {
	Results []JobResult
}

// AddResult appends a result, dropping the oldest beyond maxHistory
func (h *JobHistory) AddResult(result JobResult) {
	h.Results = append(h.Results, result)
	if over := len(h.Results) - maxHistory; over > 0 {
		h.Results = append([]JobResult(nil), h.Results[over:]...)
	}
}

// GetLatestResults returns up to n most recent results
func (h *JobHistory) GetLatestResults(n int) []JobResult {
	n = min(n, len(h.Results))
	if n <= 0 {
		return []JobResult{}
	}
	return h.Results[len(h.Results)-n:]
}

// GetFailedResults returns the failed executions
func (h *JobHistory) GetFailedResults() []JobResult {
	var failed []JobResult
	for _, r := range h.Results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	return failed
}

// GetSuccessRate is the share of successful executions, 0 without history
func (h *JobHistory) GetSuccessRate() float64 {
	if len(h.Results) == 0 {
		return 0
	}
	return float64(len(h.Results)-len(h.GetFailedResults())) / float64(len(h.Results))
}

// ConsecutiveFailures counts failures since the last success
func (h *JobHistory) ConsecutiveFailures() int {
	n := 0
	for i := len(h.Results) - 1; i >= 0 && !h.Results[i].Success; i-- {
		n++
	}
	return n
}
