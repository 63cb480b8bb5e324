// Package heartbeat supervises a periodic background operation: it owns the
// loop goroutine, the adjustable interval and the last successful result,
// and lets callers start, stop, reconfigure and trigger it concurrently.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidInterval is returned when an interval is not a positive number of seconds.
	ErrInvalidInterval = errors.New("interval must be a positive number of seconds")
	// ErrLoopAborted is returned by Stop when the loop goroutine died from a panic.
	ErrLoopAborted = errors.New("heartbeat loop terminated abnormally")
)

// Operation is the unit of work run once per tick or manual trigger.
// It must be safe to call from several goroutines at once.
type Operation interface {
	Execute(ctx context.Context, endpoint string) (string, error)
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(ctx context.Context, endpoint string) (string, error)

// Execute calls f.
func (f OperationFunc) Execute(ctx context.Context, endpoint string) (string, error) {
	return f(ctx, endpoint)
}

// ScheduleConfig is the mutable schedule of the supervisor.
type ScheduleConfig struct {
	IntervalSeconds int
	Endpoint        string
}

// Result is the outcome of the most recent successful execution.
type Result struct {
	TransactionID string
	Source        Source
	CompletedAt   time.Time
}

// Status is a consistent snapshot of the supervisor state.
type Status struct {
	Running         bool
	IntervalSeconds int
	Endpoint        string
	LastResult      *Result
}

// loopHandle identifies one spawned loop goroutine. While a Stop drains it,
// state.loop is set and state.running is false.
type loopHandle struct {
	stop     chan struct{}
	done     chan struct{}
	panicked any
}

func (h *loopHandle) stopping() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// state groups every field shared between the loop and callers.
// All of it is guarded by Supervisor.mu.
type state struct {
	config     ScheduleConfig
	running    bool
	loop       *loopHandle
	lastResult *Result
}

// Supervisor runs an Operation on an adjustable interval.
type Supervisor struct {
	op       Operation
	clock    Clock
	recorder Recorder
	log      zerolog.Logger

	mu sync.Mutex
	st state
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(s *Supervisor) {
		s.clock = c
	}
}

// WithRecorder reports every attempt to r.
func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) {
		s.recorder = r
	}
}

// New creates a stopped supervisor.
func New(cfg ScheduleConfig, op Operation, log zerolog.Logger, opts ...Option) (*Supervisor, error) {
	if err := validateInterval(cfg.IntervalSeconds); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, fmt.Errorf("operation is required")
	}

	s := &Supervisor{
		op:    op,
		clock: SystemClock(),
		log:   log.With().Str("component", "heartbeat_supervisor").Logger(),
		st:    state{config: cfg},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start spawns the loop. It is a no-op when already running. If a Stop is
// still draining the previous loop, Start waits for that loop to exit first.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	for !s.st.running && s.st.loop != nil {
		draining := s.st.loop
		s.mu.Unlock()
		<-draining.done
		s.mu.Lock()
		if s.st.loop == draining {
			s.st.loop = nil
		}
	}
	defer s.mu.Unlock()

	if s.st.running {
		s.log.Debug().Msg("Heartbeat already running, ignoring start")
		return nil
	}

	h := &loopHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.st.running = true
	s.st.loop = h
	go s.run(h)

	s.log.Info().
		Int("interval_seconds", s.st.config.IntervalSeconds).
		Str("endpoint", s.st.config.Endpoint).
		Msg("Heartbeat started")
	return nil
}

// Stop signals the loop and waits until it has exited. An in-flight tick or
// sleep is allowed to finish. It is a no-op when already stopped.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	h := s.st.loop
	if !s.st.running {
		s.mu.Unlock()
		// A concurrent Stop may still be draining the loop.
		if h != nil {
			<-h.done
		}
		return nil
	}
	s.st.running = false
	close(h.stop)
	s.mu.Unlock()

	<-h.done

	s.mu.Lock()
	if s.st.loop == h {
		s.st.loop = nil
	}
	s.mu.Unlock()

	if h.panicked != nil {
		return fmt.Errorf("%w: %v", ErrLoopAborted, h.panicked)
	}
	s.log.Info().Msg("Heartbeat stopped")
	return nil
}

// IsRunning reports whether the loop is running.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.running
}

// SetInterval changes the wait between ticks. The new value applies from the
// next cycle; a wait already in progress is not shortened or extended.
func (s *Supervisor) SetInterval(seconds int) error {
	if err := validateInterval(seconds); err != nil {
		return err
	}

	s.mu.Lock()
	s.st.config.IntervalSeconds = seconds
	s.mu.Unlock()

	s.log.Info().Int("interval_seconds", seconds).Msg("Heartbeat interval updated")
	return nil
}

// Interval returns the configured interval in seconds.
func (s *Supervisor) Interval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.config.IntervalSeconds
}

// Endpoint returns the configured ledger endpoint.
func (s *Supervisor) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.config.Endpoint
}

// LastResult returns the transaction id of the latest successful execution.
func (s *Supervisor) LastResult() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.lastResult == nil {
		return "", false
	}
	return s.st.lastResult.TransactionID, true
}

// Status returns all shared fields read under one lock.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:         s.st.running,
		IntervalSeconds: s.st.config.IntervalSeconds,
		Endpoint:        s.st.config.Endpoint,
	}
	if s.st.lastResult != nil {
		r := *s.st.lastResult
		st.LastResult = &r
	}
	return st
}

// TriggerNow runs the operation once, outside the schedule and regardless of
// whether the loop is running.
func (s *Supervisor) TriggerNow(ctx context.Context) (string, error) {
	s.log.Info().Msg("Manual heartbeat triggered")
	return s.execute(ctx, SourceManual, s.Endpoint())
}

// run is the loop body. Each cycle reads the interval, waits it out, then
// executes unless Stop was called meanwhile.
func (s *Supervisor) run(h *loopHandle) {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			h.panicked = r
			s.log.Error().Interface("panic", r).Msg("Heartbeat loop panicked")
		}
	}()

	for {
		if h.stopping() {
			return
		}

		s.mu.Lock()
		cfg := s.st.config
		s.mu.Unlock()

		s.clock.Sleep(time.Duration(cfg.IntervalSeconds) * time.Second)

		if h.stopping() {
			return
		}

		// Failures are logged and recorded by execute; the loop keeps going.
		_, _ = s.execute(context.Background(), SourceTick, cfg.Endpoint)
	}
}

// execute invokes the operation with no lock held and publishes the outcome.
func (s *Supervisor) execute(ctx context.Context, source Source, endpoint string) (string, error) {
	started := s.clock.Now()
	txID, err := s.op.Execute(ctx, endpoint)
	finished := s.clock.Now()

	if err != nil {
		s.log.Error().
			Err(err).
			Str("source", string(source)).
			Str("endpoint", endpoint).
			Msg("Heartbeat failed")
	} else {
		s.mu.Lock()
		s.st.lastResult = &Result{
			TransactionID: txID,
			Source:        source,
			CompletedAt:   finished,
		}
		s.mu.Unlock()

		s.log.Info().
			Str("source", string(source)).
			Str("signature", txID).
			Dur("duration", finished.Sub(started)).
			Msg("Heartbeat succeeded")
	}

	s.record(Attempt{
		Source:        source,
		Endpoint:      endpoint,
		StartedAt:     started,
		Duration:      finished.Sub(started),
		TransactionID: txID,
		Err:           err,
	})

	return txID, err
}

func (s *Supervisor) record(a Attempt) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(context.Background(), a); err != nil {
		s.log.Warn().Err(err).Str("source", string(a.Source)).Msg("Failed to record heartbeat attempt")
	}
}

func validateInterval(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, seconds)
	}
	return nil
}
