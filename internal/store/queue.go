package store

import (
	"encoding/json"
	"time"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/logging"
	"github.com/ebdtools/attendsync/internal/models"
)

// Enqueue appends a write to the pending queue and returns the stored
// operation with its assigned id. The id is an autoincrement key, so
// replay order follows enqueue order.
func (s *Store) Enqueue(opType models.OperationType, payload interface{}) (*models.PendingOperation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to marshal payload", err)
	}

	now := time.Now().Unix()

	res, err := s.db.Exec(`
		INSERT INTO pending (op_type, payload, enqueued_at, attempt_count, next_attempt_at)
		VALUES (?, ?, ?, 0, 0)
	`, string(opType), string(data), now)
	if err != nil {
		return nil, storageErr("enqueue", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("enqueue id", err)
	}

	op := &models.PendingOperation{
		ID:         id,
		Type:       opType,
		Payload:    json.RawMessage(data),
		EnqueuedAt: now,
	}

	logging.Debug("Enqueued pending operation",
		map[string]interface{}{"id": id, "type": string(opType)})

	return op, nil
}

// ListPending returns all queued operations in enqueue (FIFO) order.
func (s *Store) ListPending() ([]models.PendingOperation, error) {
	rows, err := s.db.Query(`
		SELECT id, op_type, payload, enqueued_at, attempt_count, next_attempt_at, last_error
		FROM pending
		ORDER BY enqueued_at ASC, id ASC
	`)
	if err != nil {
		return nil, storageErr("list pending", err)
	}
	defer rows.Close()

	var ops []models.PendingOperation
	for rows.Next() {
		var op models.PendingOperation
		var payload string
		if err := rows.Scan(&op.ID, &op.Type, &payload, &op.EnqueuedAt,
			&op.AttemptCount, &op.NextAttemptAt, &op.LastError); err != nil {
			return nil, storageErr("scan pending", err)
		}
		op.Payload = json.RawMessage(payload)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pending", err)
	}
	return ops, nil
}

// ListPendingByType returns queued operations of one type in FIFO order.
func (s *Store) ListPendingByType(opType models.OperationType) ([]models.PendingOperation, error) {
	rows, err := s.db.Query(`
		SELECT id, op_type, payload, enqueued_at, attempt_count, next_attempt_at, last_error
		FROM pending
		WHERE op_type = ?
		ORDER BY enqueued_at ASC, id ASC
	`, string(opType))
	if err != nil {
		return nil, storageErr("list pending by type", err)
	}
	defer rows.Close()

	var ops []models.PendingOperation
	for rows.Next() {
		var op models.PendingOperation
		var payload string
		if err := rows.Scan(&op.ID, &op.Type, &payload, &op.EnqueuedAt,
			&op.AttemptCount, &op.NextAttemptAt, &op.LastError); err != nil {
			return nil, storageErr("scan pending", err)
		}
		op.Payload = json.RawMessage(payload)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pending", err)
	}
	return ops, nil
}

// CountPending returns the number of queued operations.
func (s *Store) CountPending() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pending").Scan(&n); err != nil {
		return 0, storageErr("count pending", err)
	}
	return n, nil
}

// RecordFailure persists one failed replay attempt: the incremented
// attempt count, the earliest time the next attempt may run, and the
// error that caused the failure.
func (s *Store) RecordFailure(id int64, attemptCount int, nextAttemptAt int64, lastError string) error {
	res, err := s.db.Exec(`
		UPDATE pending
		SET attempt_count = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, attemptCount, nextAttemptAt, lastError, id)
	if err != nil {
		return storageErr("record failure", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, "pending operation not found")
	}
	return nil
}

// Remove deletes a queued operation after a confirmed successful replay.
func (s *Store) Remove(id int64) error {
	res, err := s.db.Exec("DELETE FROM pending WHERE id = ?", id)
	if err != nil {
		return storageErr("remove pending", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, "pending operation not found")
	}
	return nil
}

// MoveToDeadLetter parks an exhausted operation in the dead-letter table
// for manual inspection and removes it from the live queue.
func (s *Store) MoveToDeadLetter(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("begin dead letter", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO dead_letter (id, op_type, payload, enqueued_at, attempt_count, last_error, parked_at)
		SELECT id, op_type, payload, enqueued_at, attempt_count, last_error, ?
		FROM pending WHERE id = ?
	`, time.Now().Unix(), id)
	if err != nil {
		return storageErr("park dead letter", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, "pending operation not found")
	}

	if _, err := tx.Exec("DELETE FROM pending WHERE id = ?", id); err != nil {
		return storageErr("remove parked", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit dead letter", err)
	}

	logging.Warn("Operation moved to dead letter",
		map[string]interface{}{"id": id})
	return nil
}

// ListDeadLetter returns parked operations in park order.
func (s *Store) ListDeadLetter() ([]models.PendingOperation, error) {
	rows, err := s.db.Query(`
		SELECT id, op_type, payload, enqueued_at, attempt_count, last_error
		FROM dead_letter
		ORDER BY parked_at ASC, id ASC
	`)
	if err != nil {
		return nil, storageErr("list dead letter", err)
	}
	defer rows.Close()

	var ops []models.PendingOperation
	for rows.Next() {
		var op models.PendingOperation
		var payload string
		if err := rows.Scan(&op.ID, &op.Type, &payload, &op.EnqueuedAt,
			&op.AttemptCount, &op.LastError); err != nil {
			return nil, storageErr("scan dead letter", err)
		}
		op.Payload = json.RawMessage(payload)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate dead letter", err)
	}
	return ops, nil
}

// RequeueDeadLetter moves every parked operation back into the live queue
// with a reset attempt count. Returns the number of operations requeued.
func (s *Store) RequeueDeadLetter() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, storageErr("begin requeue", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO pending (op_type, payload, enqueued_at, attempt_count, next_attempt_at, last_error)
		SELECT op_type, payload, enqueued_at, 0, 0, ''
		FROM dead_letter
		ORDER BY parked_at ASC, id ASC
	`)
	if err != nil {
		return 0, storageErr("requeue dead letter", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("requeue count", err)
	}

	if _, err := tx.Exec("DELETE FROM dead_letter"); err != nil {
		return 0, storageErr("clear dead letter", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit requeue", err)
	}

	if n > 0 {
		logging.Info("Requeued dead-letter operations",
			map[string]interface{}{"count": n})
	}
	return int(n), nil
}
