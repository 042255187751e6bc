package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/p2ptransfers/internal/jobs"
)

func TestQueue_ProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.ExportStatementJob)
		j.ResultURI = "gs://b/" + j.AccountNumber
		return nil
	}))

	job := &jobs.ExportStatementJob{OwnerID: "alice", AccountNumber: "123"}
	require.NoError(t, q.PublishExportStatement(ctx, job))
	require.NotEmpty(t, job.JobID)

	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, job.JobID)
		return err == nil && got.Status == jobs.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "gs://b/123", got.ResultURI)
	assert.NotNil(t, got.CompletedAt)

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_RetriesThenFails(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		attempts.Add(1)
		return errors.New("upload failed")
	}))

	job := &jobs.ExportStatementJob{OwnerID: "alice", AccountNumber: "1", MaxRetries: 1}
	require.NoError(t, q.PublishExportStatement(ctx, job))

	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, job.JobID)
		return err == nil && got.Status == jobs.JobStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(2), attempts.Load())
	got, _ := store.GetJob(ctx, job.JobID)
	assert.Equal(t, "upload failed", got.Error)
	assert.Equal(t, 1, got.RetryCount)
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err := q.PublishExportStatement(context.Background(), &jobs.ExportStatementJob{})
	assert.ErrorIs(t, err, jobs.ErrQueueClosed)
	assert.ErrorIs(t, q.Start(context.Background(), nil), jobs.ErrQueueClosed)
}

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, owner := range []string{"alice", "bob", "alice"} {
		require.NoError(t, s.SaveJob(ctx, &jobs.ExportStatementJob{
			JobID:     string(rune('a' + i)),
			OwnerID:   owner,
			Status:    jobs.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.ListJobs(ctx, jobs.JobFilter{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].JobID, "newest first")

	page, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].JobID)

	require.NoError(t, s.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "boom"))
	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)

	_, err = s.GetJob(ctx, "zzz")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.Error(t, s.SaveJob(ctx, &jobs.ExportStatementJob{}))
}
