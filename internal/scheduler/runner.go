package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic task. Delay is measured from the end of the previous
// run, so a slow run never overlaps the next one on the same replica.
type Job struct {
	Name  string
	Delay time.Duration
	Run   func(ctx context.Context) error
}

// Runner drives jobs on fixed delays until stopped.
type Runner struct {
	jobs   []Job
	lock   Lock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type RunnerOption func(*Runner)

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithLock replaces the in-process lock, typically with a RedisLock when
// several replicas share one database.
func WithLock(lock Lock) RunnerOption {
	return func(r *Runner) {
		r.lock = lock
	}
}

func NewRunner(jobs []Job, opts ...RunnerOption) *Runner {
	r := &Runner{
		jobs:   jobs,
		lock:   NewLocalLock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches one goroutine per job.
func (r *Runner) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(job)
	}
	r.logger.Info("scheduler started", "jobs", len(r.jobs))
}

// Stop cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.logger.Info("scheduler stopped")
}

func (r *Runner) loop(job Job) {
	defer r.wg.Done()

	timer := time.NewTimer(job.Delay)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
			r.tick(r.ctx, job)
			timer.Reset(job.Delay)
		}
	}
}

// tick runs the job once unless another holder of the lock is running it.
func (r *Runner) tick(ctx context.Context, job Job) {
	release, ok, err := r.lock.TryAcquire(ctx, job.Name)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to acquire job lock", "job", job.Name, "error", err)
		return
	}
	if !ok {
		r.logger.DebugContext(ctx, "job already running elsewhere", "job", job.Name)
		return
	}
	defer release()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		r.logger.ErrorContext(ctx, "job failed",
			"job", job.Name,
			"duration", time.Since(start),
			"error", err,
		)
		return
	}
	r.logger.DebugContext(ctx, "job completed", "job", job.Name, "duration", time.Since(start))
}

// Jobs returns the standard dispatch, synchronize and receive jobs.
func (s *Scheduler) Jobs(sendEvery, syncEvery, receiveEvery time.Duration) []Job {
	return []Job{
		{Name: "send-outgoing", Delay: sendEvery, Run: func(ctx context.Context) error {
			n, err := s.SendDueOutgoing(ctx)
			if n > 0 {
				s.logger.InfoContext(ctx, "dispatched documents", "claimed", n)
			}
			return err
		}},
		{Name: "synchronize-outgoing", Delay: syncEvery, Run: func(ctx context.Context) error {
			n, err := s.SynchronizeOutgoing(ctx)
			if n > 0 {
				s.logger.InfoContext(ctx, "synchronized documents", "delivered", n)
			}
			return err
		}},
		{Name: "receive-incoming", Delay: receiveEvery, Run: s.ReceiveIncoming},
	}
}
