package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/encnetwork/doctrans/internal/download"
	"github.com/encnetwork/doctrans/internal/engine"
	"github.com/encnetwork/doctrans/internal/jobs"
	"github.com/encnetwork/doctrans/internal/service"
	"github.com/encnetwork/doctrans/pkg/log"
)

// Runner executes one claimed job.
type Runner interface {
	Execute(ctx context.Context, job *jobs.Job) (*service.Outcome, error)
}

// Options tunes the scheduler loops.
type Options struct {
	// CleanupCron is the schedule of the expiry sweep.
	CleanupCron string
	// IdleInterval bounds how long the processor waits when the queue
	// is empty before polling again.
	IdleInterval time.Duration
	// ErrorBackoff is slept after a failed or panicked job before the
	// next one is claimed.
	ErrorBackoff time.Duration
	// CleanupBackoff delays the one-off retry after a panicked sweep.
	CleanupBackoff time.Duration
	// MaxProcessing is the stuck-job threshold.
	MaxProcessing time.Duration
	// MaxRequeues bounds how often a stuck job returns to pending
	// before it is failed.
	MaxRequeues int
}

func (o *Options) applyDefaults() {
	if o.CleanupCron == "" {
		o.CleanupCron = "0 * * * *"
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = 10 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 30 * time.Second
	}
	if o.CleanupBackoff <= 0 {
		o.CleanupBackoff = 60 * time.Second
	}
	if o.MaxProcessing <= 0 {
		o.MaxProcessing = 2 * time.Hour
	}
}

// Scheduler drives the job queue: one processor loop working pending
// jobs oldest first, and a cron-scheduled cleanup that expires jobs and
// tokens and recovers jobs stuck in processing.
type Scheduler struct {
	store       *jobs.Store
	runner      Runner
	downloads   *download.Registry
	checkpoints *engine.CheckpointStore
	workspace   *service.Workspace
	opts        Options

	cron   *cron.Cron
	group  *errgroup.Group
	cancel context.CancelFunc

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(store *jobs.Store, runner Runner, downloads *download.Registry, checkpoints *engine.CheckpointStore, workspace *service.Workspace, opts Options) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		store:       store,
		runner:      runner,
		downloads:   downloads,
		checkpoints: checkpoints,
		workspace:   workspace,
		opts:        opts,
		sleep:       sleepContext,
	}
}

// Start launches the processor loop and the cleanup schedule. It returns
// once both are running; Stop shuts them down.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	s.group = group
	s.cancel = cancel

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.opts.CleanupCron, func() { s.runCleanup(groupCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.opts.CleanupCron, err)
	}
	s.cron.Start()

	group.Go(func() error {
		s.supervise(groupCtx, "processor", s.processLoop)
		return nil
	})

	// Sweep once at startup so a long downtime does not wait for the
	// next cron tick to release expired work.
	group.Go(func() error {
		s.runCleanup(groupCtx)
		return nil
	})

	log.Info("Scheduler started (cleanup schedule %q)", s.opts.CleanupCron)
	return nil
}

// Stop halts the cleanup schedule and waits for the processor loop to
// observe cancellation.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
	log.Info("Scheduler stopped")
}

// supervise restarts the loop after a panic so one bad job cannot kill
// the scheduler.
func (s *Scheduler) supervise(ctx context.Context, name string, loop func(ctx context.Context)) {
	for ctx.Err() == nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("Loop %s panicked: %v", name, r)
				}
			}()
			loop(ctx)
		}()
		if ctx.Err() == nil {
			if err := s.sleep(ctx, s.opts.ErrorBackoff); err != nil {
				return
			}
		}
	}
}

// processLoop claims pending jobs oldest first. When the queue is empty
// it blocks on the store's wake-up channel with IdleInterval as an upper
// bound, so a fresh enqueue is picked up immediately but a missed signal
// only costs one interval.
func (s *Scheduler) processLoop(ctx context.Context) {
	idle := time.NewTimer(s.opts.IdleInterval)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		job := s.store.NextPending()
		if job == nil {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.opts.IdleInterval)
			select {
			case <-ctx.Done():
				return
			case <-s.store.Notify():
			case <-idle.C:
			}
			continue
		}
		s.processJob(ctx, job)
	}
}

func (s *Scheduler) processJob(ctx context.Context, job *jobs.Job) {
	claimed, err := s.store.UpdateStatus(ctx, job.ID, jobs.StatusProcessing, jobs.Update{})
	if err != nil {
		// A persistent store error would otherwise spin the loop on
		// the same pending job.
		log.Warn("Failed to claim job %s: %v", job.ID, err)
		_ = s.sleep(ctx, s.opts.ErrorBackoff)
		return
	}
	log.Info("Job %s processing (%d files, %s -> %s)", claimed.ID, len(claimed.OriginalFiles), claimed.SourceLang, claimed.TargetLang)

	outcome, err := s.executeSafely(ctx, claimed)
	if err != nil {
		// On shutdown the job stays processing; hydration or the stuck
		// sweep returns it to pending.
		if ctx.Err() != nil {
			return
		}
		log.Error("Job %s failed: %v", claimed.ID, err)
		if _, uerr := s.store.UpdateStatus(ctx, claimed.ID, jobs.StatusError, jobs.Update{ErrorMessage: err.Error()}); uerr != nil {
			log.Error("Failed to mark job %s as errored: %v", claimed.ID, uerr)
		}
		_ = s.sleep(ctx, s.opts.ErrorBackoff)
		return
	}

	if _, err := s.store.UpdateStatus(ctx, claimed.ID, jobs.StatusCompleted, jobs.Update{TranslatedFiles: outcome.TranslatedFiles}); err != nil {
		log.Error("Failed to mark job %s as completed: %v", claimed.ID, err)
		return
	}
	log.Info("Job %s completed (%d files translated)", claimed.ID, len(outcome.TranslatedFiles))
}

// executeSafely converts a runner panic into a job error instead of
// taking down the loop.
func (s *Scheduler) executeSafely(ctx context.Context, job *jobs.Job) (outcome *service.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("job execution panicked: %v", r)
		}
	}()
	return s.runner.Execute(ctx, job)
}

// runCleanup expires jobs and download tokens, releases their files and
// recovers jobs stuck in processing. A panic schedules one retry after
// CleanupBackoff.
func (s *Scheduler) runCleanup(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Cleanup panicked: %v", r)
			time.AfterFunc(s.opts.CleanupBackoff, func() {
				if ctx.Err() == nil {
					s.runCleanup(ctx)
				}
			})
		}
	}()
	if ctx.Err() != nil {
		return
	}
	now := time.Now()

	for _, jobID := range s.store.ExpireSweep(ctx, now) {
		s.downloads.RevokeByJob(ctx, jobID)
		if err := s.checkpoints.Remove(jobID); err != nil {
			log.Warn("Failed to remove checkpoints of expired job %s: %v", jobID, err)
		}
		if err := s.workspace.Remove(jobID); err != nil {
			log.Warn("Failed to remove workspace of expired job %s: %v", jobID, err)
		}
	}

	if removed := s.downloads.ExpireSweep(ctx, now); removed > 0 {
		log.Info("Cleanup removed %d expired download tokens", removed)
	}

	requeued, failed := s.store.RequeueStale(ctx, s.opts.MaxProcessing, s.opts.MaxRequeues)
	if len(requeued) > 0 {
		log.Warn("Cleanup requeued %d stuck jobs: %v", len(requeued), requeued)
	}
	if len(failed) > 0 {
		log.Warn("Cleanup failed %d jobs stuck beyond their requeue budget: %v", len(failed), failed)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
