package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ideastake/ledgerbeat/internal/heartbeat"
	"github.com/ideastake/ledgerbeat/internal/history"
	"github.com/ideastake/ledgerbeat/internal/scheduler"
)

// MockController is an in-memory HeartbeatController.
type MockController struct {
	mu         sync.Mutex
	running    bool
	interval   int
	endpoint   string
	last       *heartbeat.Result
	triggerTx  string
	triggerErr error
	stopErr    error
	triggers   int
}

func newMockController() *MockController {
	return &MockController{interval: 30, endpoint: "https://api.devnet.solana.com", triggerTx: "sig-manual"}
}

func (m *MockController) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

func (m *MockController) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return m.stopErr
}

func (m *MockController) SetInterval(seconds int) error {
	if seconds <= 0 {
		return heartbeat.ErrInvalidInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = seconds
	return nil
}

func (m *MockController) TriggerNow(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers++
	if m.triggerErr != nil {
		return "", m.triggerErr
	}
	m.last = &heartbeat.Result{
		TransactionID: m.triggerTx,
		Source:        heartbeat.SourceManual,
		CompletedAt:   time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	return m.triggerTx, nil
}

func (m *MockController) Status() heartbeat.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := heartbeat.Status{Running: m.running, IntervalSeconds: m.interval, Endpoint: m.endpoint}
	if m.last != nil {
		r := *m.last
		st.LastResult = &r
	}
	return st
}

// MockHistory serves fixed entries.
type MockHistory struct {
	entries   []history.Entry
	stats     history.Stats
	err       error
	lastLimit int
}

func (m *MockHistory) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.entries) {
		return m.entries[:limit], nil
	}
	return m.entries, nil
}

func (m *MockHistory) Stats(ctx context.Context) (history.Stats, error) {
	return m.stats, m.err
}

// MockJobs lists fixed jobs.
type MockJobs struct {
	jobs []scheduler.JobInfo
}

func (m *MockJobs) Jobs() []scheduler.JobInfo {
	return m.jobs
}

// MockDB reports a fixed health result.
type MockDB struct {
	err error
}

func (m *MockDB) HealthCheck(ctx context.Context) error {
	return m.err
}

var errDiskFull = errors.New("disk full")
