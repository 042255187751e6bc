// Package inmemory keeps export jobs and their state inside one process.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/p2ptransfers/internal/jobs"
)

// Store is a process-local jobs.JobStore. Callers always get copies.
type Store struct {
	mu   sync.RWMutex
	byID map[string]jobs.ExportStatementJob
}

func NewStore() *Store {
	return &Store{byID: make(map[string]jobs.ExportStatementJob)}
}

// SaveJob implements jobs.JobStore.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ExportStatementJob) error {
	if job.JobID == "" {
		return errors.New("SaveJob: job ID is required")
	}

	s.mu.Lock()
	s.byID[job.JobID] = *job
	s.mu.Unlock()
	return nil
}

// GetJob implements jobs.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ExportStatementJob, error) {
	s.mu.RLock()
	job, ok := s.byID[jobID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	return &job, nil
}

// ListJobs implements jobs.JobStore.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ExportStatementJob, error) {
	s.mu.RLock()
	all := make([]*jobs.ExportStatementJob, 0, len(s.byID))
	for _, job := range s.byID {
		all = append(all, &job)
	}
	s.mu.RUnlock()

	return jobs.Page(all, filter), nil
}

// UpdateJobStatus implements jobs.JobStore.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	jobs.ApplyStatus(&job, status, errorMsg)
	s.byID[jobID] = job
	return nil
}

var _ jobs.JobStore = (*Store)(nil)
