package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/p2ptransfers/internal/jobs"
)

// Queue hands export jobs to worker goroutines over a buffered channel.
// Jobs only live as long as the process; use redisqueue to share them with
// a standalone worker.
type Queue struct {
	pending chan *jobs.ExportStatementJob
	life    *jobs.Lifecycle
	store   jobs.JobStore
	workers int
}

// NewQueue returns a queue holding up to bufferSize undelivered jobs.
// store may be nil when job state is not queried.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = 5
	}
	return &Queue{
		pending: make(chan *jobs.ExportStatementJob, bufferSize),
		life:    jobs.NewLifecycle(),
		store:   store,
		workers: workers,
	}
}

// PublishExportStatement implements jobs.Publisher. It blocks while the
// buffer is full.
func (q *Queue) PublishExportStatement(ctx context.Context, job *jobs.ExportStatementJob) error {
	if q.life.Closed() {
		return jobs.ErrQueueClosed
	}

	jobs.Prepare(job, time.Now())
	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishExportStatement: save %s: %w", job.JobID, err)
		}
	}

	select {
	case q.pending <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.life.Done():
		return jobs.ErrQueueClosed
	}
}

// Start implements jobs.Consumer.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	return q.life.Spawn(q.workers, func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.life.Done():
				return
			case job := <-q.pending:
				jobs.Run(ctx, job, handler, q.save(ctx), q.republish(ctx))
			}
		}
	})
}

func (q *Queue) save(ctx context.Context) func(*jobs.ExportStatementJob) {
	return func(job *jobs.ExportStatementJob) {
		if q.store != nil {
			_ = q.store.SaveJob(ctx, job)
		}
	}
}

// republish drops the job if the queue has closed in the meantime.
func (q *Queue) republish(ctx context.Context) func(*jobs.ExportStatementJob) {
	return func(job *jobs.ExportStatementJob) {
		_ = q.PublishExportStatement(ctx, job)
	}
}

// Stop implements jobs.Consumer. Jobs still buffered are abandoned.
func (q *Queue) Stop(ctx context.Context) error {
	return q.life.Stop(ctx)
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
