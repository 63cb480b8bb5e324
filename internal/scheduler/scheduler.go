// Package scheduler runs maintenance jobs on cron schedules.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
}

// JobObserver is told when a job run starts and finishes.
type JobObserver interface {
	JobStarted(name string)
	JobFinished(name string, d time.Duration, err error)
}

type registration struct {
	id       cron.EntryID
	schedule string
	job      Job
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu       sync.Mutex
	jobs     map[string]registration
	observer JobObserver
}

// New creates a scheduler whose schedules include a seconds field. A job
// still running when its next slot arrives is skipped, and panics are
// recovered and logged.
func New(log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: log}

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:  log,
		jobs: make(map[string]registration),
	}
}

// SetObserver installs o for subsequent runs. Nil removes it.
func (s *Scheduler) SetObserver(o JobObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.Jobs())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "0 30 3 * * *"       - 03:30:00 every day
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %q already registered", job.Name())
	}

	id, err := s.cron.AddJob(schedule, cron.FuncJob(func() { s.execute(job) }))
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, job.Name(), err)
	}
	s.jobs[job.Name()] = registration{id: id, schedule: schedule, job: job}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a registered job immediately (outside schedule)
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	reg, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.run(reg.job)
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, reg := range s.jobs {
		entry := s.cron.Entry(reg.id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: reg.schedule,
			Next:     entry.Next,
			Prev:     entry.Prev,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Scheduler) execute(job Job) {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")
	_ = s.run(job)
}

// run executes job, logs the outcome and notifies the observer.
func (s *Scheduler) run(job Job) error {
	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()

	if obs != nil {
		obs.JobStarted(job.Name())
	}
	start := time.Now()
	err := job.Run()
	elapsed := time.Since(start)
	if obs != nil {
		obs.JobFinished(job.Name(), elapsed, err)
	}

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Msg("Job failed")
		return err
	}
	s.log.Debug().Str("job", job.Name()).Dur("duration", elapsed).Msg("Job completed")
	return nil
}

// cronLogger routes cron's internal messages to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
