package events

import (
	"context"
	"time"

	"github.com/ideastake/ledgerbeat/internal/heartbeat"
	"github.com/ideastake/ledgerbeat/internal/ledger"
)

// AttemptPublisher is a heartbeat.Recorder that emits every attempt on the bus.
type AttemptPublisher struct {
	bus *Bus
}

// NewAttemptPublisher creates a publisher for bus.
func NewAttemptPublisher(bus *Bus) *AttemptPublisher {
	return &AttemptPublisher{bus: bus}
}

// Record emits HeartbeatSucceeded or HeartbeatFailed. It never fails.
func (p *AttemptPublisher) Record(_ context.Context, a heartbeat.Attempt) error {
	data := &HeartbeatData{
		Source:        string(a.Source),
		Endpoint:      a.Endpoint,
		TransactionID: a.TransactionID,
		DurationMs:    a.Duration.Milliseconds(),
	}
	if a.Err != nil {
		data.Error = a.Err.Error()
		data.ErrorKind = ledger.ErrorKind(a.Err)
	}
	p.bus.Emit("heartbeat", data)
	return nil
}

// JobReporter emits scheduler job lifecycle events.
type JobReporter struct {
	bus *Bus
}

// NewJobReporter creates a reporter for bus.
func NewJobReporter(bus *Bus) *JobReporter {
	return &JobReporter{bus: bus}
}

// JobStarted emits JobStarted.
func (r *JobReporter) JobStarted(name string) {
	r.bus.Emit("scheduler", &JobStatusData{Job: name, Status: JobStatusStarted})
}

// JobFinished emits JobCompleted, or JobFailed when err is set.
func (r *JobReporter) JobFinished(name string, d time.Duration, err error) {
	data := &JobStatusData{
		Job:        name,
		Status:     JobStatusCompleted,
		DurationMs: d.Milliseconds(),
	}
	if err != nil {
		data.Status = JobStatusFailed
		data.Error = err.Error()
	}
	r.bus.Emit("scheduler", data)
}
