package track

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change back to running.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEvent is one observable occurrence during processing. The message text
// is the deduplication key: two events with the same message are the same
// event regardless of source. A nil timestamp sorts before everything else.
type LogEvent struct {
	Message   string     `json:"message"`
	Severity  Severity   `json:"severity,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (e LogEvent) at() time.Time {
	if e.Timestamp == nil {
		return time.Time{}
	}
	return *e.Timestamp
}

// Record is one processing job, past or present. RecordID is the store's own
// key; TaskID is the backend's identifier and stays empty when submission
// itself failed.
type Record struct {
	RecordID     string          `json:"recordId"`
	TaskID       string          `json:"taskId,omitempty"`
	Kind         string          `json:"kind"`
	SourcePath   string          `json:"sourcePath"`
	DisplayName  string          `json:"displayName"`
	StartedAt    time.Time       `json:"startedAt"`
	EndedAt      *time.Time      `json:"endedAt,omitempty"`
	Status       Status          `json:"status"`
	LogEvents    []LogEvent      `json:"logEvents"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NewRecord creates a running record for a freshly submitted job.
func NewRecord(kind, sourcePath string) *Record {
	now := time.Now()
	return &Record{
		RecordID:    shortuuid.New(),
		Kind:        kind,
		SourcePath:  sourcePath,
		DisplayName: filepath.Base(sourcePath),
		StartedAt:   now,
		Status:      StatusRunning,
		UpdatedAt:   now,
	}
}

func (r *Record) clone() *Record {
	c := *r
	c.LogEvents = append([]LogEvent(nil), r.LogEvents...)
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	if r.Result != nil {
		c.Result = append(json.RawMessage(nil), r.Result...)
	}
	return &c
}

// Fields is an explicit partial update for a record. Nil members leave the
// corresponding field untouched; LogEvents always goes through MergeLogs
// against the record's existing sequence.
type Fields struct {
	Status       *Status
	EndedAt      *time.Time
	LogEvents    []LogEvent
	Result       json.RawMessage
	ErrorMessage *string
}

// apply merges the patch into the record. Status transitions are monotone:
// terminal states have no outgoing edges, so a terminal record ignores any
// further status change, and endedAt is set at most once.
func (r *Record) apply(f Fields, now time.Time) {
	if f.Status != nil && !r.Status.Terminal() {
		r.Status = *f.Status
	}
	if f.EndedAt != nil && r.EndedAt == nil {
		t := *f.EndedAt
		r.EndedAt = &t
	}
	if len(f.LogEvents) > 0 {
		r.LogEvents = MergeLogs(r.LogEvents, f.LogEvents)
	}
	// Result only attaches to completed records, errorMessage only to failed
	// ones. Both checks run after the status merge above, so a patch that
	// finalizes the record in one call passes them.
	if f.Result != nil && r.Status == StatusCompleted {
		r.Result = append(json.RawMessage(nil), f.Result...)
	}
	if f.ErrorMessage != nil && r.Status == StatusFailed {
		r.ErrorMessage = *f.ErrorMessage
	}
	r.UpdatedAt = now
}

func syntheticEvent(message string, severity Severity, at time.Time) LogEvent {
	return LogEvent{Message: message, Severity: severity, Timestamp: &at}
}
