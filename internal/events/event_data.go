package events

import "encoding/json"

// EventData is the payload of an event. Its concrete type decides the
// event type.
type EventData interface {
	EventType() EventType
}

// HeartbeatData describes one heartbeat attempt.
type HeartbeatData struct {
	Source        string `json:"source"`
	Endpoint      string `json:"endpoint"`
	TransactionID string `json:"transaction_id,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Error         string `json:"error,omitempty"`
}

// EventType is HeartbeatFailed when the attempt carries an error.
func (d *HeartbeatData) EventType() EventType {
	if d.Error != "" {
		return HeartbeatFailed
	}
	return HeartbeatSucceeded
}

// Supervisor actions.
const (
	ActionStarted         = "started"
	ActionStopped         = "stopped"
	ActionIntervalChanged = "interval_changed"
)

// SupervisorData reports a control change applied to the heartbeat loop.
type SupervisorData struct {
	Action          string `json:"action"`
	Running         bool   `json:"running"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// EventType returns SupervisorChanged.
func (d *SupervisorData) EventType() EventType {
	return SupervisorChanged
}

// Job statuses.
const (
	JobStatusStarted   = "started"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobStatusData tracks a maintenance job run.
type JobStatusData struct {
	Job        string `json:"job"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EventType maps the status onto JobStarted, JobCompleted or JobFailed.
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case JobStatusStarted:
		return JobStarted
	case JobStatusFailed:
		return JobFailed
	default:
		return JobCompleted
	}
}

// GenericEventData holds payloads of types this package does not know.
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the type recorded at decode time.
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON emits the raw map.
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON keeps the payload as a raw map.
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
