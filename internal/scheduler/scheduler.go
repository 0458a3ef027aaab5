// Package scheduler runs the periodic background jobs: interval jobs on a
// ticker and one daily job at a fixed UTC wall-clock time. Job runs are
// dispatched to a bounded worker pool; a job whose previous run is still
// going is skipped rather than stacked.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

const defaultWorkers = 10

// Job is one schedulable unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context)

	// Interval schedules the job every Interval. Zero means the job is
	// daily instead, firing at DailyHour:DailyMinute UTC.
	Interval    time.Duration
	DailyHour   int
	DailyMinute int
}

// Scheduler owns the tickers and the worker pool.
type Scheduler struct {
	jobs    []Job
	workers int
	logger  *log.Logger

	mu      sync.Mutex
	running map[string]bool

	workCh chan func()
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a scheduler for the given jobs.
func New(jobs []Job, logger *log.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:    jobs,
		workers: defaultWorkers,
		logger:  logger,
		running: make(map[string]bool),
		workCh:  make(chan func()),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start runs the scheduler until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.doneCh)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fn := range s.workCh {
				fn()
			}
		}()
	}

	var loops sync.WaitGroup
	for i := range s.jobs {
		job := s.jobs[i]
		loops.Add(1)
		go func() {
			defer loops.Done()
			if job.Interval > 0 {
				s.intervalLoop(ctx, job)
			} else {
				s.dailyLoop(ctx, job)
			}
		}()
	}

	loops.Wait()
	close(s.workCh)
	wg.Wait()
}

// Stop signals the scheduler to stop. Call after cancelling the Start
// context, or alone; either unblocks the loops.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Kick dispatches one run of the named job immediately, subject to the same
// skip-if-running rule as scheduled runs.
func (s *Scheduler) Kick(ctx context.Context, name string) {
	for _, job := range s.jobs {
		if job.Name == name {
			s.dispatch(ctx, job)
			return
		}
	}
	s.logger.Printf("Scheduler: no job named %q", name)
}

func (s *Scheduler) intervalLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatch(ctx, job)
		}
	}
}

func (s *Scheduler) dailyLoop(ctx context.Context, job Job) {
	for {
		wait := untilNextUTC(time.Now().UTC(), job.DailyHour, job.DailyMinute)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.dispatch(ctx, job)
		}
	}
}

// dispatch hands the job to the pool unless its previous run is still in
// flight. A full pool also skips the run; trigger jobs are periodic and the
// next tick catches up.
func (s *Scheduler) dispatch(ctx context.Context, job Job) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		s.logger.Printf("Scheduler: %s still running, skipping this tick", job.Name)
		return
	}
	s.running[job.Name] = true
	s.mu.Unlock()

	run := func() {
		defer func() {
			s.mu.Lock()
			s.running[job.Name] = false
			s.mu.Unlock()
		}()
		job.Run(ctx)
	}

	select {
	case s.workCh <- run:
	case <-ctx.Done():
		s.clearRunning(job.Name)
	case <-s.stopCh:
		s.clearRunning(job.Name)
	}
}

func (s *Scheduler) clearRunning(name string) {
	s.mu.Lock()
	s.running[name] = false
	s.mu.Unlock()
}

// untilNextUTC returns the wait until the next hh:mm UTC, at least a
// second so a job never fires twice inside the same minute.
func untilNextUTC(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	wait := next.Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}
