package track

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StatusUpdate is one normalized status-fetch response from the backend.
type StatusUpdate struct {
	Status       Status
	NewLogEvents []LogEvent
	ErrorMessage string
}

// ResultDump is the backend's authoritative final answer for a completed job.
type ResultDump struct {
	FullLogEvents []LogEvent
	Result        json.RawMessage
}

// Backend is the remote job backend as seen by a poller.
type Backend interface {
	FetchStatus(ctx context.Context, taskID string) (*StatusUpdate, error)
	FetchResult(ctx context.Context, taskID string) (*ResultDump, error)
}

// PollerConfig carries the three polling knobs. Zero values fall back to the
// defaults (1.5s poll interval, 2s retry delay, 10 consecutive failures).
type PollerConfig struct {
	PollInterval    time.Duration
	RetryDelay      time.Duration
	MaxPollFailures int
	Logger          *zap.Logger
}

const (
	DefaultPollInterval    = 1500 * time.Millisecond
	DefaultRetryDelay      = 2 * time.Second
	DefaultMaxPollFailures = 10
)

// Poller drives a single in-flight job to a terminal state. It holds no state
// that is not also reflected in the task record: every transition is exactly
// one store update, and the record is the durable source of truth.
type Poller struct {
	backend     Backend
	store       *Store
	taskID      string
	interval    time.Duration
	retryDelay  time.Duration
	maxFailures int
	log         *zap.Logger

	// sleep is replaced in tests so the state machine runs without timers.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPoller(backend Backend, store *Store, taskID string, cfg PollerConfig) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = DefaultMaxPollFailures
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Poller{
		backend:     backend,
		store:       store,
		taskID:      taskID,
		interval:    cfg.PollInterval,
		retryDelay:  cfg.RetryDelay,
		maxFailures: cfg.MaxPollFailures,
		log:         cfg.Logger.With(zap.String("taskId", taskID)),
		sleep:       sleepWithContext,
	}
}

// Run polls the backend until the job reaches a terminal state. Backend
// errors are turned into record state and never returned; the only error Run
// reports is the context's, when the caller abandons the job. An abandoned
// job's record stays running.
func (p *Poller) Run(ctx context.Context) error {
	failures := 0
	for {
		upd, err := p.backend.FetchStatus(ctx, p.taskID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTransient(err) && failures < p.maxFailures {
				failures++
				p.log.Warn("transient poll failure, will retry",
					zap.Int("consecutiveFailures", failures),
					zap.Error(err))
				if serr := p.sleep(ctx, p.retryDelay); serr != nil {
					return serr
				}
				continue
			}
			p.abort(ctx, err)
			return nil
		}
		failures = 0

		switch upd.Status {
		case StatusCompleted:
			p.finalizeCompleted(ctx, upd)
			return nil
		case StatusFailed:
			p.finalizeFailed(ctx, upd)
			return nil
		default:
			if _, uerr := p.store.Update(ctx, p.taskID, Fields{LogEvents: upd.NewLogEvents}); uerr != nil {
				p.log.Warn("failed to persist poll update", zap.Error(uerr))
			}
			if serr := p.sleep(ctx, p.interval); serr != nil {
				return serr
			}
		}
	}
}

// finalizeCompleted fetches the authoritative result and log dump and closes
// the record out as completed. A failed result fetch degrades to the
// poll-collected log set with an informational note; the job's outcome
// matters more than the final round-trip.
func (p *Poller) finalizeCompleted(ctx context.Context, upd *StatusUpdate) {
	now := time.Now()
	status := StatusCompleted
	events := append([]LogEvent(nil), upd.NewLogEvents...)
	f := Fields{Status: &status, EndedAt: &now}

	dump, err := p.backend.FetchResult(ctx, p.taskID)
	if err != nil {
		p.log.Warn("result fetch failed, finalizing with poll-collected logs", zap.Error(err))
		events = append(events, syntheticEvent(
			fmt.Sprintf("could not retrieve the final result log: %v", err),
			SeverityInfo, now))
	} else {
		events = append(events, dump.FullLogEvents...)
		f.Result = dump.Result
	}
	f.LogEvents = events

	if _, uerr := p.store.Update(ctx, p.taskID, f); uerr != nil {
		p.log.Warn("failed to persist completion", zap.Error(uerr))
	}
	p.log.Info("task completed")
}

// finalizeFailed records a backend-reported failure, appending a synthetic
// error event when the backend supplied none.
func (p *Poller) finalizeFailed(ctx context.Context, upd *StatusUpdate) {
	now := time.Now()
	status := StatusFailed
	events := append([]LogEvent(nil), upd.NewLogEvents...)

	msg := upd.ErrorMessage
	if msg == "" {
		msg = "task failed on the processing backend"
	}
	if !hasErrorEvent(events) {
		events = append(events, syntheticEvent(msg, SeverityError, now))
	}

	f := Fields{Status: &status, EndedAt: &now, LogEvents: events, ErrorMessage: &msg}
	if _, uerr := p.store.Update(ctx, p.taskID, f); uerr != nil {
		p.log.Warn("failed to persist failure", zap.Error(uerr))
	}
	p.log.Info("task failed", zap.String("error", msg))
}

// abort closes the record out after losing contact with the backend. This is
// the only terminal path triggered purely by local failure.
func (p *Poller) abort(ctx context.Context, cause error) {
	now := time.Now()
	status := StatusFailed
	msg := fmt.Sprintf("lost contact with the processing backend: %v", cause)

	f := Fields{
		Status:       &status,
		EndedAt:      &now,
		ErrorMessage: &msg,
		LogEvents:    []LogEvent{syntheticEvent(msg, SeverityError, now)},
	}
	if _, uerr := p.store.Update(ctx, p.taskID, f); uerr != nil {
		p.log.Warn("failed to persist abort", zap.Error(uerr))
	}
	p.log.Error("task tracking aborted", zap.Error(cause))
}

func hasErrorEvent(events []LogEvent) bool {
	for _, e := range events {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// isTransient classifies an error as a retryable timeout.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
