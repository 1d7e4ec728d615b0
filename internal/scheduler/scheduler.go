// Package scheduler runs periodic background jobs such as warming the event
// listing cache.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler evaluates cron expressions and fires jobs. A job that is still
// running when its next tick arrives is skipped for that tick.
type Scheduler struct {
	jobs []Job
	cron *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like
// "@every 30s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a scheduler for jobs.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		cron: newCron(),
	}
}

func newCron() *cron.Cron {
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
}

// Validate checks every job's schedule without starting anything.
func Validate(jobs ...Job) error {
	var errs []error
	for _, job := range jobs {
		if _, err := cronParser.Parse(job.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err))
		}
	}
	return errors.Join(errs...)
}

// Start registers jobs with a schedule and starts the cron ticker. Jobs run
// with a context derived from ctx that is cancelled by Stop. Jobs with an
// invalid schedule are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		if job.Schedule == "" || job.Run == nil {
			continue
		}

		job := job
		_, err := s.cron.AddFunc(job.Schedule, func() {
			s.fire(job)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) fire(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	slog.Debug("cron firing job", "name", job.Name)
	if err := job.Run(ctx); err != nil {
		slog.Warn("scheduled job failed", "name", job.Name, "error", err, "elapsed", time.Since(start))
		return
	}
	slog.Debug("scheduled job done", "name", job.Name, "elapsed", time.Since(start))
}

// Stop stops the cron ticker, cancels running jobs and waits for them to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}
