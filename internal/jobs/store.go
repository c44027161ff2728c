package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/encnetwork/doctrans/pkg/log"
)

// ErrNoFiles rejects an enqueue request before any job record is created.
var ErrNoFiles = errors.New("no files to translate")

// Persister stores job records durably so the queue survives restarts.
type Persister interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
}

// Store owns every Job record and all position/status mutation. Mutations
// run under a single writer lock and are persisted before the call
// returns, so the scheduler loops and API handlers never observe a
// half-applied change.
type Store struct {
	persister Persister

	jobTTL        time.Duration
	perFileCost   time.Duration
	queueWaitUnit time.Duration
	now           func() time.Time

	mu     sync.RWMutex
	jobs   map[string]*Job
	notify chan struct{}
}

type StoreOption func(*Store)

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.jobTTL = ttl }
}

func WithEstimates(perFileCost, queueWaitUnit time.Duration) StoreOption {
	return func(s *Store) {
		s.perFileCost = perFileCost
		s.queueWaitUnit = queueWaitUnit
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(ctx context.Context, persister Persister, opts ...StoreOption) (*Store, error) {
	s := &Store{
		persister:     persister,
		jobTTL:        48 * time.Hour,
		perFileCost:   30 * time.Second,
		queueWaitUnit: 60 * time.Second,
		now:           time.Now,
		jobs:          make(map[string]*Job),
		notify:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// hydrate loads persisted jobs. Jobs left processing by a dead process are
// returned to pending so they get picked up again.
func (s *Store) hydrate(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	loaded, err := s.persister.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	s.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusProcessing {
			job.Status = StatusPending
			job.Requeues++
			job.ProcessingStart = time.Time{}
			log.Warn("Job %s was processing at shutdown, requeued", job.ID)
		}
		s.jobs[job.ID] = job
	}
	s.recomputePositionsLocked(ctx)
	s.mu.Unlock()
	return nil
}

// EnqueueRequest describes a new job. ID may be pre-generated with
// NewID when the caller needs it before enqueueing (to stage uploads);
// an empty ID gets one assigned.
type EnqueueRequest struct {
	ID         string
	SourceLang string
	TargetLang string
	Files      []string
	FilePaths  map[string]string
}

// Enqueue creates a pending job and returns its snapshot with the queue
// position and the time estimate filled in.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	if len(req.Files) == 0 {
		return nil, ErrNoFiles
	}
	id := req.ID
	if id == "" {
		id = NewID()
	}
	filePaths := make(map[string]string, len(req.FilePaths))
	for name, path := range req.FilePaths {
		filePaths[name] = path
	}

	now := s.now()
	s.mu.Lock()
	position := s.pendingCountLocked() + 1
	estimate := time.Duration(len(req.Files))*s.perFileCost + time.Duration(position)*s.queueWaitUnit

	job := &Job{
		ID:            id,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.jobTTL),
		SourceLang:    req.SourceLang,
		TargetLang:    req.TargetLang,
		OriginalFiles: append([]string(nil), req.Files...),
		FilePaths:     filePaths,
		Position:      position,
		EstimatedTime: int(estimate.Seconds()),
	}
	s.jobs[job.ID] = job

	if err := s.persistLocked(ctx, job); err != nil {
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return nil, err
	}
	snapshot := cloneJob(job)
	s.mu.Unlock()

	s.wake()
	log.Info("Job %s enqueued at position %d (eta %ds)", snapshot.ID, snapshot.Position, snapshot.EstimatedTime)
	return snapshot, nil
}

// Get returns a snapshot of the job, or ErrNotFound.
func (s *Store) Get(jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

// NextPending returns the oldest pending job, or nil when the queue is idle.
func (s *Store) NextPending() *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest *Job
	for _, job := range s.jobs {
		if job.Status != StatusPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	return cloneJob(oldest)
}

// UpdateStatus applies a status transition, enforcing the state machine.
// processing_start and processing_end are stamped on the relevant
// transitions and pending positions are recomputed afterwards.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, next Status, update Update) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if !canTransition(job.Status, next) {
		return nil, transitionError(job.Status, next)
	}

	prev := *job
	job.Status = next
	switch next {
	case StatusProcessing:
		job.ProcessingStart = s.now()
	case StatusCompleted, StatusError:
		job.ProcessingEnd = s.now()
	}
	if update.ErrorMessage != "" {
		job.ErrorMessage = update.ErrorMessage
	}
	if update.TranslatedFiles != nil {
		job.TranslatedFiles = append([]string(nil), update.TranslatedFiles...)
	}
	if next != StatusPending {
		job.Position = 0
	}

	if err := s.persistLocked(ctx, job); err != nil {
		*job = prev
		return nil, err
	}
	s.recomputePositionsLocked(ctx)
	return cloneJob(job), nil
}

// RequeueStale recovers jobs stuck in processing longer than maxProcessing:
// back to pending while the requeue budget lasts, otherwise to error.
// UpdateStatus cannot express processing -> pending, so this is the one
// mutation allowed to bypass the transition table.
func (s *Store) RequeueStale(ctx context.Context, maxProcessing time.Duration, maxRequeues int) (requeued, failed []string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Status != StatusProcessing || job.ProcessingStart.IsZero() {
			continue
		}
		if now.Sub(job.ProcessingStart) < maxProcessing {
			continue
		}
		prev := *job
		if job.Requeues < maxRequeues {
			job.Status = StatusPending
			job.Requeues++
			job.ProcessingStart = time.Time{}
			if err := s.persistLocked(ctx, job); err != nil {
				*job = prev
				continue
			}
			requeued = append(requeued, job.ID)
		} else {
			job.Status = StatusError
			job.ErrorMessage = "processing exceeded the maximum duration"
			job.ProcessingEnd = now
			job.Position = 0
			if err := s.persistLocked(ctx, job); err != nil {
				*job = prev
				continue
			}
			failed = append(failed, job.ID)
		}
	}
	if len(requeued) > 0 || len(failed) > 0 {
		s.recomputePositionsLocked(ctx)
	}
	if len(requeued) > 0 {
		s.wake()
	}
	return requeued, failed
}

// ExpireSweep removes every job whose expires_at has passed, regardless of
// status, and returns their ids so callers can release checkpoints,
// artifacts and working files.
func (s *Store) ExpireSweep(ctx context.Context, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]string, 0)
	for id, job := range s.jobs {
		if !job.ExpiresAt.Before(now) {
			continue
		}
		if s.persister != nil {
			if err := s.persister.DeleteJob(ctx, id); err != nil {
				log.Error("Failed to delete expired job %s: %v", id, err)
				continue
			}
		}
		delete(s.jobs, id)
		removed = append(removed, id)
		log.Info("Job %s expired, removed from queue", id)
	}
	if len(removed) > 0 {
		s.recomputePositionsLocked(ctx)
	}
	return removed
}

// Stats returns the per-status job counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := Stats{Total: len(s.jobs)}
	for _, job := range s.jobs {
		switch job.Status {
		case StatusPending:
			ret.Pending++
		case StatusProcessing:
			ret.Processing++
		case StatusCompleted:
			ret.Completed++
		case StatusError:
			ret.Error++
		}
	}
	return ret
}

// Notify signals once per wake-up when new pending work may exist.
func (s *Store) Notify() <-chan struct{} {
	return s.notify
}

func (s *Store) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// recomputePositionsLocked renumbers pending jobs 1..N by creation time.
// Only jobs whose position actually changed are re-persisted.
func (s *Store) recomputePositionsLocked(ctx context.Context) {
	pending := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	for i, job := range pending {
		next := i + 1
		if job.Position == next {
			continue
		}
		job.Position = next
		if err := s.persistLocked(ctx, job); err != nil {
			log.Error("Failed to persist position of job %s: %v", job.ID, err)
		}
	}
}

func (s *Store) pendingCountLocked() int {
	count := 0
	for _, job := range s.jobs {
		if job.Status == StatusPending {
			count++
		}
	}
	return count
}

func (s *Store) persistLocked(ctx context.Context, job *Job) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

// NewID returns a short 12-hex-char job identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
