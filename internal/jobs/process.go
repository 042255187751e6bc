package jobs

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Prepare fills the defaults of a freshly published job.
func Prepare(job *ExportStatementJob, now time.Time) {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = DefaultMaxRetries
	}
}

// Execute runs handler against job and records the outcome on it. When the
// job should be retried it returns the backoff to wait before re-enqueueing.
func Execute(ctx context.Context, job *ExportStatementJob, handler JobHandler, save func(*ExportStatementJob)) (retryAfter time.Duration, retry bool) {
	job.Status = JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	save(job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Error = err.Error()

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = JobStatusRetrying
			save(job)
			return time.Duration(job.RetryCount) * time.Second, true
		}
		job.Status = JobStatusFailed
	} else {
		job.Status = JobStatusCompleted
		job.Error = ""
	}

	save(job)
	return 0, false
}

// ResetForRetry clears the per-attempt fields before a job is re-enqueued.
func ResetForRetry(job *ExportStatementJob) {
	job.Status = JobStatusPending
	job.StartedAt = nil
	job.CompletedAt = nil
}

// Page applies filter predicates, newest-first ordering and pagination.
func Page(all []*ExportStatementJob, filter JobFilter) []*ExportStatementJob {
	result := []*ExportStatementJob{}
	for _, job := range all {
		if filter.Matches(job) {
			result = append(result, job)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*ExportStatementJob{}
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result
}
