// Package scheduler runs the daemon's recurring jobs from an explicit job
// table. Each job is a pure function of (current time, its own handles);
// there is no hidden global state and no lock shared between jobs.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// JobFunc is one scheduled unit of work. Failures are logged and the job
// waits for its next trigger; there are no immediate retries.
type JobFunc func(ctx context.Context, now time.Time) error

// Job describes one recurring job. Exactly one of Every (interval trigger)
// or At ("HH:MM", daily at that UTC wall-clock time) must be set. A run
// delayed past its due time by more than MisfireGrace is skipped instead of
// executed late; zero grace means always run.
type Job struct {
	ID           string
	Name         string
	Every        time.Duration
	At           string
	MisfireGrace time.Duration
	Run          JobFunc
}

// JobStatus is a point-in-time view of one job for operational visibility.
type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NextRun   time.Time `json:"nextRun"`
	LastRun   time.Time `json:"lastRun,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Runs      int       `json:"runs"`
}

type jobState struct {
	job Job

	mu        sync.Mutex
	nextRun   time.Time
	lastRun   time.Time
	lastError string
	runs      int
}

// Scheduler owns the job table and one goroutine per job.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*jobState
	order   []string
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates an empty scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   make(map[string]*jobState),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Add registers a job. Jobs added after Start begin running immediately.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job requires an id")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s requires a run function", job.ID)
	}
	if (job.Every > 0) == (job.At != "") {
		return fmt.Errorf("job %s requires exactly one of an interval or a daily time", job.ID)
	}
	if job.At != "" {
		if _, _, err := parseDailyTime(job.At); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already registered", job.ID)
	}

	state := &jobState{job: job}
	s.jobs[job.ID] = state
	s.order = append(s.order, job.ID)

	if s.started {
		s.wg.Add(1)
		go s.runLoop(state)
	}
	return nil
}

// Start launches every registered job's loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, id := range s.order {
		state := s.jobs[id]
		s.wg.Add(1)
		go s.runLoop(state)
	}
	log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop cancels all job contexts and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// Snapshot reports every job's status in registration order.
func (s *Scheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.order))
	for _, id := range s.order {
		state := s.jobs[id]
		state.mu.Lock()
		out = append(out, JobStatus{
			ID:        state.job.ID,
			Name:      state.job.Name,
			NextRun:   state.nextRun,
			LastRun:   state.lastRun,
			LastError: state.lastError,
			Runs:      state.runs,
		})
		state.mu.Unlock()
	}
	return out
}

func (s *Scheduler) runLoop(state *jobState) {
	defer s.wg.Done()

	for {
		due := nextTrigger(state.job, s.now())
		state.mu.Lock()
		state.nextRun = due
		state.mu.Unlock()

		timer := time.NewTimer(time.Until(due))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := s.now()
		if grace := state.job.MisfireGrace; grace > 0 && now.Sub(due) > grace {
			log.Warn().
				Str("job", state.job.ID).
				Time("due", due).
				Dur("late", now.Sub(due)).
				Msg("Skipping misfired job run")
			continue
		}

		s.execute(state, now)
	}
}

// execute runs the job once, recovering panics so one bad run never takes
// the scheduler down.
func (s *Scheduler) execute(state *jobState, now time.Time) {
	runID := uuid.NewString()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job", state.job.ID).
				Str("run", runID).
				Interface("panic", r).
				Msg("Job panicked")
			state.mu.Lock()
			state.lastError = fmt.Sprintf("panic: %v", r)
			state.mu.Unlock()
		}
	}()

	log.Debug().Str("job", state.job.ID).Str("run", runID).Msg("Job starting")
	err := state.job.Run(s.ctx, now)

	state.mu.Lock()
	state.lastRun = now
	state.runs++
	if err != nil {
		state.lastError = err.Error()
	} else {
		state.lastError = ""
	}
	state.mu.Unlock()

	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		log.Error().Err(err).
			Str("job", state.job.ID).
			Str("run", runID).
			Msg("Job failed, waiting for next trigger")
		return
	}
	log.Debug().
		Str("job", state.job.ID).
		Str("run", runID).
		Dur("duration", time.Since(started)).
		Msg("Job completed")
}

// nextTrigger computes a job's next due time after now.
func nextTrigger(job Job, now time.Time) time.Time {
	if job.Every > 0 {
		return now.Add(job.Every)
	}
	hour, minute, _ := parseDailyTime(job.At)
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func parseDailyTime(at string) (hour, minute int, err error) {
	parts := strings.SplitN(at, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("daily time must be HH:MM, got %q", at)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in daily time %q", at)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in daily time %q", at)
	}
	return hour, minute, nil
}
