// Package schedule runs test selections on cron schedules, one run at a time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Job is a named test selection with a cron expression
type Job struct {
	Name        string
	Cron        string
	Patterns    []string
	TestList    string
	MaxDuration time.Duration // 0 means no limit
}

// Validate checks if the job is usable
func (j *Job) Validate() error {
	if j.Name == "" {
		return errors.New("schedule name is required")
	}
	if j.Cron == "" {
		return fmt.Errorf("schedule %s: cron expression is required", j.Name)
	}
	if _, err := ParseCron(j.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression: %w", j.Name, err)
	}
	if j.MaxDuration < 0 {
		return fmt.Errorf("schedule %s: negative max duration", j.Name)
	}
	return nil
}

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// RunFunc executes one job. ctx carries the job's MaxDuration.
type RunFunc func(ctx context.Context, job Job) error

// Scheduler decides which jobs are due. Jobs never overlap: a job that
// becomes due while another runs starts after it.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	scheds  map[string]cron.Schedule
	lastRun map[string]time.Time
}

// New validates jobs and creates a scheduler. Every job's first run is its
// first cron time after start.
func New(jobs []Job, start time.Time) (*Scheduler, error) {
	s := &Scheduler{
		scheds:  make(map[string]cron.Schedule),
		lastRun: make(map[string]time.Time),
	}
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.scheds[job.Name]; dup {
			return nil, fmt.Errorf("schedule %s defined twice", job.Name)
		}
		sched, _ := ParseCron(job.Cron)
		s.jobs = append(s.jobs, job)
		s.scheds[job.Name] = sched
		s.lastRun[job.Name] = start
	}
	return s, nil
}

// Jobs returns the configured jobs in order
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

// NextRun returns when the named job runs next, or zero for unknown jobs
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.scheds[name]
	if !ok {
		return time.Time{}
	}
	return sched.Next(s.lastRun[name])
}

// Due returns the jobs whose next run is not after now, in configuration
// order.
func (s *Scheduler) Due(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for _, job := range s.jobs {
		if !s.scheds[job.Name].Next(s.lastRun[job.Name]).After(now) {
			due = append(due, job)
		}
	}
	return due
}

// MarkDone records that the named job ran at t. Missed occurrences before t
// are not made up.
func (s *Scheduler) MarkDone(name string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[name] = t
}

// Loop checks for due jobs every tick and runs them one after another until
// ctx is done. A failing job is logged and does not stop the loop.
func (s *Scheduler) Loop(ctx context.Context, tick time.Duration, run RunFunc) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, job := range s.Due(now) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.runOne(ctx, job, run)
				s.MarkDone(job.Name, time.Now())
			}
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, job Job, run RunFunc) {
	if job.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.MaxDuration)
		defer cancel()
	}

	start := time.Now()
	if err := run(ctx, job); err != nil {
		log.Printf("[schedule] %s failed after %s: %v", job.Name, time.Since(start).Round(time.Second), err)
		return
	}
	log.Printf("[schedule] %s finished in %s", job.Name, time.Since(start).Round(time.Second))
}
