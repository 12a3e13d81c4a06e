package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskwatch/track"
)

// Older backend builds drifted in where they put the log array and how they
// labeled severity. Everything is normalized here, once, into the canonical
// LogEvent shape; nothing downstream ever probes alternate field names.

// rawStatus tolerates every known historical shape of the status+logs answer:
// the log array may live under "logs", "log", or "messages".
type rawStatus struct {
	Status   string        `json:"status"`
	Error    string        `json:"error"`
	Logs     []rawLogEntry `json:"logs"`
	Log      []rawLogEntry `json:"log"`
	Messages []rawLogEntry `json:"messages"`
}

// rawLogEntry tolerates severity under either "severity" or the legacy "type".
type rawLogEntry struct {
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Backend timestamps are ISO 8601, sometimes without a zone offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func normalizeStatus(data []byte) (*track.StatusUpdate, error) {
	var raw rawStatus
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}

	entries := raw.Logs
	if len(entries) == 0 {
		entries = raw.Log
	}
	if len(entries) == 0 {
		entries = raw.Messages
	}

	upd := &track.StatusUpdate{
		Status:       normalizeTaskStatus(raw.Status),
		ErrorMessage: raw.Error,
	}
	for _, e := range entries {
		upd.NewLogEvents = append(upd.NewLogEvents, normalizeLogEvent(e))
	}
	return upd, nil
}

// normalizeTaskStatus maps backend status strings onto the three engine
// statuses. Anything unknown counts as still running; only an explicit
// terminal answer may finish a job.
func normalizeTaskStatus(s string) track.Status {
	switch strings.ToLower(s) {
	case "completed", "complete", "done", "success":
		return track.StatusCompleted
	case "failed", "error":
		return track.StatusFailed
	default:
		return track.StatusRunning
	}
}

func normalizeLogEvent(e rawLogEntry) track.LogEvent {
	sev := e.Severity
	if sev == "" {
		sev = e.Type
	}

	var severity track.Severity
	switch strings.ToLower(sev) {
	case "success":
		severity = track.SeveritySuccess
	case "warning", "warn":
		severity = track.SeverityWarning
	case "error":
		severity = track.SeverityError
	default:
		severity = track.SeverityInfo
	}

	ev := track.LogEvent{Message: e.Message, Severity: severity}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, e.Timestamp); err == nil {
			ev.Timestamp = &ts
			break
		}
	}
	return ev
}
