package api

import (
	"context"
	"sync"
	"time"
)

const defaultJobLimit = 256

type jobRecord struct {
	job    Job
	cancel context.CancelFunc
}

// JobStore keeps background load and chat jobs in memory. Once the store holds
// more than its limit, the oldest finished jobs are evicted.
type JobStore struct {
	mu    sync.Mutex
	jobs  map[string]*jobRecord
	order []string
	limit int
}

func NewJobStore(limit int) *JobStore {
	if limit <= 0 {
		limit = defaultJobLimit
	}
	return &JobStore{
		jobs:  make(map[string]*jobRecord),
		limit: limit,
	}
}

func (s *JobStore) Create(job Job, cancel context.CancelFunc) Job {
	job.Object = "job"
	job.Status = JobInProgress
	if job.ID == "" {
		job.ID = newJobID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &jobRecord{job: job, cancel: cancel}
	s.order = append(s.order, job.ID)
	s.evictLocked()
	return job
}

func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return rec.job, true
}

// Finish records the outcome of a job. A job that was cancelled keeps its
// cancelled status.
func (s *JobStore) Finish(id string, result *ChatResponse, err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.job.terminal() {
		return
	}
	completedAt := now.Unix()
	rec.job.CompletedAt = &completedAt
	if err != nil {
		rec.job.Status = JobFailed
		rec.job.Error = apiError(err)
		return
	}
	rec.job.Status = JobCompleted
	rec.job.Result = result
}

func (s *JobStore) Cancel(id string, now time.Time) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	if !rec.job.terminal() {
		rec.job.Status = JobCancelled
		completedAt := now.Unix()
		rec.job.CompletedAt = &completedAt
		if rec.cancel != nil {
			rec.cancel()
		}
	}
	return rec.job, true
}

func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *JobStore) evictLocked() {
	if len(s.jobs) <= s.limit {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		rec, ok := s.jobs[id]
		if !ok {
			continue
		}
		if len(s.jobs) > s.limit && rec.job.terminal() {
			delete(s.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}
