// Package scheduler runs the periodic checkpoint job on a cron, interval or
// one-off schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/config"
)

// Job is what the scheduler runs when the schedule is due.
type Job func(ctx context.Context) error

type Scheduler struct {
	job          Job
	pollInterval time.Duration
	reloadCh     chan struct{}

	mu       sync.Mutex
	schedule string
	next     *time.Time
	runs     int
	lastErr  error
}

func New(cfg config.CheckpointConfig, job Job) (*Scheduler, error) {
	sched, err := NormalizeSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		job:          job,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
		schedule:     sched,
	}
	s.next = NextRun(sched, time.Now())
	return s, nil
}

// Reschedule replaces the schedule and signals the run loop.
func (s *Scheduler) Reschedule(raw string) error {
	sched, err := NormalizeSchedule(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.schedule = sched
	s.next = NextRun(sched, time.Now())
	s.mu.Unlock()

	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
	return nil
}

// Next returns the next due time, or nil if the schedule is exhausted.
func (s *Scheduler) Next() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == nil {
		return nil
	}
	t := *s.next
	return &t
}

// Runs returns how many times the job ran and its last error.
func (s *Scheduler) Runs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.lastErr
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval <= 0 {
		s.pollInterval = time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval, "schedule", FormatSchedule(s.schedule))

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler rescheduled", "schedule", FormatSchedule(s.schedule))
		case now := <-ticker.C:
			s.poll(ctx, now)
		}
	}
}

// poll runs the job once if it is due at now. Missed runs are not caught up.
func (s *Scheduler) poll(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.next == nil || now.Before(*s.next) {
		s.mu.Unlock()
		return
	}
	sched := s.schedule
	s.mu.Unlock()

	err := s.job(ctx)
	if err != nil {
		slog.Error("scheduled job failed", "error", err)
	}

	next := NextRun(sched, now)
	s.mu.Lock()
	s.runs++
	s.lastErr = err
	if s.schedule == sched {
		s.next = next
	}
	s.mu.Unlock()

	if next == nil {
		slog.Info("schedule exhausted, no next run")
	}
}
