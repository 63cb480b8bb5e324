package heartbeat

import (
	"context"
	"errors"
	"time"
)

// Source tells where an execution came from.
type Source string

const (
	SourceTick   Source = "tick"
	SourceManual Source = "manual"
)

// Attempt describes one execution of the operation, successful or not.
type Attempt struct {
	Source        Source
	Endpoint      string
	StartedAt     time.Time
	Duration      time.Duration
	TransactionID string
	Err           error
}

// Recorder receives every attempt. Errors are logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// Recorders combines several recorders into one. Nil entries are skipped,
// every recorder sees every attempt and their errors are joined.
func Recorders(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiRecorder []Recorder

func (m multiRecorder) Record(ctx context.Context, a Attempt) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
