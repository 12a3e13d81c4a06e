package track

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobBackend is the full remote collaborator surface: job submission plus the
// polling operations.
type JobBackend interface {
	Submit(ctx context.Context, kind, sourcePath string) (taskID string, err error)
	Backend
}

// Tracker owns the submission flow: it creates the history record for every
// submission attempt and runs one poller per in-flight job. Pollers operate
// only on their own taskId's record, so any number of jobs can be tracked
// concurrently.
type Tracker struct {
	backend JobBackend
	store   *Store
	cfg     PollerConfig
	log     *zap.Logger

	baseCtx context.Context
	group   errgroup.Group
}

// NewTracker creates a tracker whose pollers live on ctx. Cancelling ctx
// abandons all in-flight jobs; their records stay running.
func NewTracker(ctx context.Context, backend JobBackend, store *Store, cfg PollerConfig) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Tracker{
		backend: backend,
		store:   store,
		cfg:     cfg,
		log:     cfg.Logger,
		baseCtx: ctx,
	}
}

// Submit starts a job on the backend and begins tracking it. A record is
// created for every attempt: when submission itself fails, the record is
// inserted directly as failed and no poller is started.
func (t *Tracker) Submit(ctx context.Context, kind, sourcePath string) (Record, error) {
	rec := NewRecord(kind, sourcePath)

	taskID, err := t.backend.Submit(ctx, kind, sourcePath)
	if err != nil {
		now := time.Now()
		rec.Status = StatusFailed
		rec.EndedAt = &now
		rec.ErrorMessage = fmt.Sprintf("job submission failed: %v", err)
		rec.LogEvents = []LogEvent{syntheticEvent(rec.ErrorMessage, SeverityError, now)}
		if _, ierr := t.store.Insert(ctx, rec); ierr != nil {
			t.log.Warn("failed to persist submission failure", zap.Error(ierr))
		}
		t.log.Error("job submission failed",
			zap.String("kind", kind), zap.String("sourcePath", sourcePath), zap.Error(err))
		return *rec, err
	}

	rec.TaskID = taskID
	if _, ierr := t.store.Insert(ctx, rec); ierr != nil {
		t.log.Warn("failed to persist new record", zap.Error(ierr))
	}
	t.log.Info("job submitted",
		zap.String("kind", kind), zap.String("taskId", taskID))

	poller := NewPoller(t.backend, t.store, taskID, t.cfg)
	t.group.Go(func() error {
		err := poller.Run(t.baseCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return *rec, nil
}

// Wait blocks until every started poller has finished.
func (t *Tracker) Wait() error {
	return t.group.Wait()
}
