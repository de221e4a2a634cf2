package models

// AttendanceStatus is the roll-call status for one member on one date.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
	StatusAbsent  AttendanceStatus = "absent"
)

// AttendanceRecord represents one member's roll-call entry for one date.
// The server upserts on (MemberID, Date), so replaying the same record is
// an update rather than a duplicate.
type AttendanceRecord struct {
	MemberID    int64            `db:"member_id" json:"memberId"`
	Date        string           `db:"date" json:"date"` // YYYY-MM-DD
	Status      AttendanceStatus `db:"status" json:"status"`
	CheckInTime string           `db:"check_in_time" json:"checkInTime,omitempty"` // HH:MM
}

// TableName returns the mirror table name for AttendanceRecord.
func (AttendanceRecord) TableName() string {
	return "attendance"
}

// AttendanceSummary aggregates roll-call counts for one date.
type AttendanceSummary struct {
	Date    string `json:"date"`
	Total   int    `json:"total"`
	Present int    `json:"present"`
	Late    int    `json:"late"`
	Absent  int    `json:"absent"`
}
