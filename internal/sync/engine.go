// Package sync drains the durable queue of pending writes against the
// remote attendance API.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/logging"
	"github.com/ebdtools/attendsync/internal/models"
	"github.com/ebdtools/attendsync/internal/store"
)

// drainLease is the storage lease name shared by every process draining
// the same data directory.
const drainLease = "drain"

// Handler replays one queued operation of a given type against the remote
// API. A nil return confirms the replay and removes the operation.
type Handler func(ctx context.Context, payload json.RawMessage) error

// RetryPolicy controls how failed operations are retried.
type RetryPolicy struct {
	// MaxAttempts is the attempt threshold for operator visibility and,
	// in dead-letter mode, for parking the operation.
	MaxAttempts int
	// Backoff is "exponential" or "none".
	Backoff string
	// BackoffBase is the first exponential delay.
	BackoffBase time.Duration
	// Exhausted is "retain" (keep retrying, log each pass — the original
	// behaviour) or "deadletter" (park for manual inspection).
	Exhausted string
}

// DefaultRetryPolicy returns the default policy: three attempts before the
// operation is flagged, exponential backoff from 30s, exhausted items
// retained in the queue.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     "exponential",
		BackoffBase: 30 * time.Second,
		Exhausted:   "retain",
	}
}

// DrainReport summarises one drain pass.
type DrainReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Attempted  int
	Succeeded  int
	Failed     int
	// Skipped counts operations whose backoff window has not elapsed.
	Skipped int
	// Parked counts operations moved to the dead letter this pass.
	Parked int
}

// Engine replays pending operations in FIFO order through a registry of
// per-type handlers. New operation types register a handler; the drain
// loop itself never switches on type.
type Engine struct {
	store    *store.Store
	handlers map[models.OperationType]Handler
	policy   RetryPolicy
	leaseTTL time.Duration
	owner    string
	draining atomic.Bool
}

// NewEngine creates an Engine over the given store.
func NewEngine(st *store.Store, policy RetryPolicy, leaseTTL time.Duration) *Engine {
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}
	return &Engine{
		store:    st,
		handlers: make(map[models.OperationType]Handler),
		policy:   policy,
		leaseTTL: leaseTTL,
		owner:    uuid.New().String(),
	}
}

// Register installs the handler for an operation type, replacing any
// previous registration.
func (e *Engine) Register(opType models.OperationType, h Handler) {
	e.handlers[opType] = h
}

// Drain replays all operations queued at the start of the pass, in FIFO
// order. Operations enqueued during the pass wait for the next trigger.
// One failing item never blocks the rest: it is recorded and the pass
// moves on. A second Drain in the same process returns DRAIN_IN_PROGRESS;
// a drain running in another process on the same data directory returns
// LEASE_HELD. Both are benign to callers.
func (e *Engine) Drain(ctx context.Context) (*DrainReport, error) {
	if !e.draining.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.ErrDrainInProgress, "drain already in progress")
	}
	defer e.draining.Store(false)

	ok, err := e.store.AcquireLease(drainLease, e.owner, e.leaseTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.ErrLeaseHeld, "drain lease held by another process")
	}
	defer func() {
		if err := e.store.ReleaseLease(drainLease, e.owner); err != nil {
			logging.Warn("Failed to release drain lease", map[string]interface{}{"error": err.Error()})
		}
	}()

	// Snapshot the queue; items enqueued during this pass are deliberately
	// not replayed until the next trigger.
	ops, err := e.store.ListPending()
	if err != nil {
		return nil, err
	}

	report := &DrainReport{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}

	logging.Info("Drain started",
		map[string]interface{}{"drain_id": report.ID, "pending": len(ops)})

	now := time.Now().Unix()
	for _, op := range ops {
		select {
		case <-ctx.Done():
			report.FinishedAt = time.Now()
			return report, apperrors.Wrap(apperrors.ErrSyncFailed, "drain cancelled", ctx.Err())
		default:
		}

		if op.NextAttemptAt > now {
			report.Skipped++
			continue
		}

		exhausted := op.AttemptCount >= e.policy.MaxAttempts
		if exhausted {
			if e.policy.Exhausted == "deadletter" {
				if err := e.store.MoveToDeadLetter(op.ID); err != nil {
					logging.Error("Failed to park exhausted operation", err,
						map[string]interface{}{"id": op.ID})
				} else {
					report.Parked++
				}
				continue
			}
			// Retain mode keeps the original log-only behaviour: the item
			// stays queued, is flagged for the operator, and is retried.
			logging.Warn("Operation exceeded max attempts",
				map[string]interface{}{
					"id":       op.ID,
					"type":     string(op.Type),
					"attempts": op.AttemptCount,
					"error":    op.LastError,
				})
		}

		report.Attempted++
		if err := e.replay(ctx, op); err != nil {
			report.Failed++
			e.recordFailure(op, err)
			continue
		}

		if err := e.store.Remove(op.ID); err != nil {
			// The replay reached the server; the upsert contract makes the
			// redundant retry after this storage failure harmless.
			report.Failed++
			logging.Error("Failed to remove replayed operation", err,
				map[string]interface{}{"id": op.ID})
			continue
		}
		report.Succeeded++
	}

	report.FinishedAt = time.Now()
	logging.Info("Drain finished",
		map[string]interface{}{
			"drain_id":  report.ID,
			"attempted": report.Attempted,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
			"parked":    report.Parked,
		})

	return report, nil
}

// replay dispatches one operation to its registered handler.
func (e *Engine) replay(ctx context.Context, op models.PendingOperation) error {
	handler, ok := e.handlers[op.Type]
	if !ok {
		return apperrors.New(apperrors.ErrUnknownOp,
			fmt.Sprintf("no handler registered for type %q", op.Type))
	}
	return handler(ctx, op.Payload)
}

// recordFailure persists the attempt increment and the next-attempt time
// derived from the backoff policy.
func (e *Engine) recordFailure(op models.PendingOperation, cause error) {
	attempts := op.AttemptCount + 1
	var nextAt int64
	if e.policy.Backoff == "exponential" {
		nextAt = time.Now().Add(backoffDelay(e.policy.BackoffBase, attempts)).Unix()
	}

	if err := e.store.RecordFailure(op.ID, attempts, nextAt, cause.Error()); err != nil {
		logging.Error("Failed to record replay failure", err,
			map[string]interface{}{"id": op.ID})
		return
	}

	logging.Warn("Replay failed",
		map[string]interface{}{
			"id":       op.ID,
			"type":     string(op.Type),
			"attempts": attempts,
			"error":    cause.Error(),
		})
}

// backoffDelay is base * 2^(attempts-1), capped at one hour.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	delay := base << uint(attempts-1)
	if delay > time.Hour || delay <= 0 {
		delay = time.Hour
	}
	return delay
}

// PendingCount reports the queue depth, used by status displays.
func (e *Engine) PendingCount() (int, error) {
	return e.store.CountPending()
}
