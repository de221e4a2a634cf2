package store

import (
	"testing"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestEnqueueAssignsMonotonicIDs tests that queue ids grow with enqueue order.
func TestEnqueueAssignsMonotonicIDs(t *testing.T) {
	s := openTestStore(t)

	first, err := s.Enqueue(models.OpAttendance, models.AttendancePayload{MemberID: 1, Date: "2024-05-01", Status: models.StatusPresent})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := s.Enqueue(models.OpMember, models.MemberPayload{Name: "Ana", Active: true})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if first.ID <= 0 {
		t.Errorf("Expected positive id, got %d", first.ID)
	}
	if second.ID <= first.ID {
		t.Errorf("Expected monotonic ids, got %d then %d", first.ID, second.ID)
	}
	if first.AttemptCount != 0 {
		t.Errorf("Expected AttemptCount 0, got %d", first.AttemptCount)
	}
}

// TestListPendingFIFO tests that pending operations come back in enqueue order.
func TestListPendingFIFO(t *testing.T) {
	s := openTestStore(t)

	var ids []int64
	for i := 0; i < 5; i++ {
		op, err := s.Enqueue(models.OpAttendance, models.AttendancePayload{MemberID: int64(i), Date: "2024-05-01", Status: models.StatusPresent})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, op.ID)
	}

	ops, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(ops) != 5 {
		t.Fatalf("Expected 5 pending, got %d", len(ops))
	}
	for i, op := range ops {
		if op.ID != ids[i] {
			t.Errorf("Position %d: expected id %d, got %d", i, ids[i], op.ID)
		}
	}
}

// TestQueueSurvivesReopen tests that a queued write is durable across a
// store close and reopen.
func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := s.Enqueue(models.OpAttendance, models.AttendancePayload{MemberID: 7, Date: "2024-05-01", Status: models.StatusPresent, CheckInTime: "09:05"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s2.Close()

	ops, err := s2.ListPending()
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("Expected 1 pending after reopen, got %d", len(ops))
	}
	if ops[0].Type != models.OpAttendance {
		t.Errorf("Expected attendance op, got %s", ops[0].Type)
	}
}

// TestRecordFailure tests attempt bookkeeping on a failed replay.
func TestRecordFailure(t *testing.T) {
	s := openTestStore(t)

	op, err := s.Enqueue(models.OpMember, models.MemberPayload{Name: "Bia", Active: true})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := s.RecordFailure(op.ID, 1, 12345, "server unreachable"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	ops, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if ops[0].AttemptCount != 1 {
		t.Errorf("Expected AttemptCount 1, got %d", ops[0].AttemptCount)
	}
	if ops[0].NextAttemptAt != 12345 {
		t.Errorf("Expected NextAttemptAt 12345, got %d", ops[0].NextAttemptAt)
	}
	if ops[0].LastError != "server unreachable" {
		t.Errorf("Expected last error recorded, got %q", ops[0].LastError)
	}

	if err := s.RecordFailure(9999, 1, 0, "x"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND for unknown id, got %v", err)
	}
}

// TestRemove tests deletion after a confirmed replay.
func TestRemove(t *testing.T) {
	s := openTestStore(t)

	op, err := s.Enqueue(models.OpAttendance, models.AttendancePayload{MemberID: 1, Date: "2024-05-01", Status: models.StatusLate})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := s.Remove(op.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	n, err := s.CountPending()
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty queue, got %d", n)
	}

	if err := s.Remove(op.ID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND on double remove, got %v", err)
	}
}

// TestDeadLetterRoundTrip tests parking an operation and requeueing it.
func TestDeadLetterRoundTrip(t *testing.T) {
	s := openTestStore(t)

	op, err := s.Enqueue(models.OpMember, models.MemberPayload{Name: "Caio", Active: true})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.RecordFailure(op.ID, 3, 0, "HTTP 500"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	if err := s.MoveToDeadLetter(op.ID); err != nil {
		t.Fatalf("MoveToDeadLetter failed: %v", err)
	}

	n, _ := s.CountPending()
	if n != 0 {
		t.Fatalf("Expected empty queue after parking, got %d", n)
	}

	parked, err := s.ListDeadLetter()
	if err != nil {
		t.Fatalf("ListDeadLetter failed: %v", err)
	}
	if len(parked) != 1 {
		t.Fatalf("Expected 1 parked op, got %d", len(parked))
	}
	if parked[0].AttemptCount != 3 || parked[0].LastError != "HTTP 500" {
		t.Errorf("Parked op lost bookkeeping: %+v", parked[0])
	}

	requeued, err := s.RequeueDeadLetter()
	if err != nil {
		t.Fatalf("RequeueDeadLetter failed: %v", err)
	}
	if requeued != 1 {
		t.Errorf("Expected 1 requeued, got %d", requeued)
	}

	ops, _ := s.ListPending()
	if len(ops) != 1 {
		t.Fatalf("Expected 1 pending after requeue, got %d", len(ops))
	}
	if ops[0].AttemptCount != 0 {
		t.Errorf("Expected reset attempt count, got %d", ops[0].AttemptCount)
	}

	parked, _ = s.ListDeadLetter()
	if len(parked) != 0 {
		t.Errorf("Expected empty dead letter after requeue, got %d", len(parked))
	}
}

// TestListPendingByType tests the secondary index on operation type.
func TestListPendingByType(t *testing.T) {
	s := openTestStore(t)

	s.Enqueue(models.OpAttendance, models.AttendancePayload{MemberID: 1, Date: "2024-05-01", Status: models.StatusPresent})
	s.Enqueue(models.OpMember, models.MemberPayload{Name: "Davi", Active: true})
	s.Enqueue(models.OpAttendance, models.AttendancePayload{MemberID: 2, Date: "2024-05-01", Status: models.StatusAbsent})

	ops, err := s.ListPendingByType(models.OpAttendance)
	if err != nil {
		t.Fatalf("ListPendingByType failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("Expected 2 attendance ops, got %d", len(ops))
	}
	for _, op := range ops {
		if op.Type != models.OpAttendance {
			t.Errorf("Expected attendance type, got %s", op.Type)
		}
	}
}
