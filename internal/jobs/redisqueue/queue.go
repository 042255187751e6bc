// Package redisqueue is a Redis-backed job queue and job store shared by the
// API and standalone workers.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dvloznov/p2ptransfers/internal/jobs"
)

const (
	defaultPrefix  = "ledger:jobs"
	defaultWorkers = 5
	pollTimeout    = time.Second
)

// Queue pushes job ids onto a Redis list and keeps job state in a hash.
type Queue struct {
	client  *redis.Client
	log     zerolog.Logger
	listKey string
	hashKey string
	workers int
	life    *jobs.Lifecycle
}

// Options configure key names and parallelism.
type Options struct {
	Prefix  string
	Workers int
}

func New(client *redis.Client, opts Options, log zerolog.Logger) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Queue{
		client:  client,
		log:     log.With().Str("component", "redis_queue").Logger(),
		listKey: opts.Prefix + ":queue:" + string(jobs.JobTypeExportStatement),
		hashKey: opts.Prefix + ":data",
		workers: opts.Workers,
		life:    jobs.NewLifecycle(),
	}
}

// PublishExportStatement implements jobs.Publisher.
func (q *Queue) PublishExportStatement(ctx context.Context, job *jobs.ExportStatementJob) error {
	if q.life.Closed() {
		return jobs.ErrQueueClosed
	}

	jobs.Prepare(job, time.Now())
	if err := q.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if err := q.client.LPush(ctx, q.listKey, job.JobID).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

// Start implements jobs.Consumer.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	return q.life.Spawn(q.workers, func() { q.worker(ctx, handler) })
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.life.Done():
			return
		default:
		}

		res, err := q.client.BRPop(ctx, pollTimeout, q.listKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn().Err(err).Msg("Dequeue failed")
			select {
			case <-time.After(pollTimeout):
			case <-ctx.Done():
				return
			case <-q.life.Done():
				return
			}
			continue
		}

		// BRPOP replies with [key, value]
		job, err := q.GetJob(ctx, res[1])
		if err != nil {
			q.log.Error().Err(err).Str("job_id", res[1]).Msg("Dropping job without state")
			continue
		}
		jobs.Run(ctx, job, handler, q.saveState(ctx), q.republish(ctx))
	}
}

func (q *Queue) saveState(ctx context.Context) func(*jobs.ExportStatementJob) {
	return func(job *jobs.ExportStatementJob) {
		if err := q.SaveJob(ctx, job); err != nil {
			q.log.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to save job state")
		}
	}
}

func (q *Queue) republish(ctx context.Context) func(*jobs.ExportStatementJob) {
	return func(job *jobs.ExportStatementJob) {
		if err := q.PublishExportStatement(ctx, job); err != nil {
			q.log.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to re-enqueue job")
		}
	}
}

// Stop implements jobs.Consumer.
func (q *Queue) Stop(ctx context.Context) error {
	return q.life.Stop(ctx)
}

// Close implements jobs.Publisher. The Redis client is owned by the caller.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// SaveJob implements jobs.JobStore.
func (q *Queue) SaveJob(ctx context.Context, job *jobs.ExportStatementJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.JobID, err)
	}
	return q.client.HSet(ctx, q.hashKey, job.JobID, data).Err()
}

// GetJob implements jobs.JobStore.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*jobs.ExportStatementJob, error) {
	raw, err := q.client.HGet(ctx, q.hashKey, jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}

	var job jobs.ExportStatementJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListJobs implements jobs.JobStore.
func (q *Queue) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ExportStatementJob, error) {
	raw, err := q.client.HGetAll(ctx, q.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	all := make([]*jobs.ExportStatementJob, 0, len(raw))
	for id, data := range raw {
		var job jobs.ExportStatementJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			q.log.Warn().Err(err).Str("job_id", id).Msg("Skipping undecodable job")
			continue
		}
		all = append(all, &job)
	}
	return jobs.Page(all, filter), nil
}

// UpdateJobStatus implements jobs.JobStore.
func (q *Queue) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	jobs.ApplyStatus(job, status, errorMsg)
	return q.SaveJob(ctx, job)
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
	_ jobs.JobStore  = (*Queue)(nil)
)
