package models

import "encoding/json"

// OperationType identifies which remote operation a queued write replays.
type OperationType string

const (
	OpAttendance   OperationType = "attendance"
	OpMember       OperationType = "member"
	OpMemberUpdate OperationType = "member_update"
)

// PendingOperation is a write captured while offline (or after a network
// failure) and held until the sync engine replays it against the server.
// It is never mutated except for attempt bookkeeping, and is deleted only
// after a confirmed successful replay.
type PendingOperation struct {
	ID            int64           `db:"id" json:"id"`
	Type          OperationType   `db:"op_type" json:"type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt    int64           `db:"enqueued_at" json:"enqueued_at"`
	AttemptCount  int             `db:"attempt_count" json:"attempt_count"`
	NextAttemptAt int64           `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for PendingOperation.
func (PendingOperation) TableName() string {
	return "pending"
}

// AttendancePayload is the payload shape for OpAttendance operations.
type AttendancePayload struct {
	MemberID    int64            `json:"memberId"`
	Date        string           `json:"date"`
	Status      AttendanceStatus `json:"status"`
	CheckInTime string           `json:"checkInTime,omitempty"`
}

// MemberPayload is the payload shape for OpMember operations.
type MemberPayload struct {
	Name      string `json:"name"`
	Class     string `json:"class"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Birthdate string `json:"birthdate,omitempty"`
	Active    bool   `json:"active"`
}

// MemberUpdatePayload is the payload shape for OpMemberUpdate operations.
// ID is the server id of the member being updated.
type MemberUpdatePayload struct {
	ID int64 `json:"id"`
	MemberPayload
}
