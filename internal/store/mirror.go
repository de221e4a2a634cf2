package store

import (
	"database/sql"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/models"
)

// The mirror tables hold the last-known server state for offline reads.
// They are refreshed opportunistically on successful fetches and are never
// the source of truth while online.

// PutMembers upserts a batch of members into the mirror in one transaction.
func (s *Store) PutMembers(members []models.Member) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("begin members refresh", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO members (id, name, class, phone, email, birthdate, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return storageErr("prepare members refresh", err)
	}
	defer stmt.Close()

	for _, m := range members {
		if _, err := stmt.Exec(m.ID, m.Name, m.Class, m.Phone, m.Email, m.Birthdate, m.Active); err != nil {
			return storageErr("upsert member", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit members refresh", err)
	}
	return nil
}

// PutMember upserts a single member.
func (s *Store) PutMember(m models.Member) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO members (id, name, class, phone, email, birthdate, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, m.Class, m.Phone, m.Email, m.Birthdate, m.Active)
	if err != nil {
		return storageErr("upsert member", err)
	}
	return nil
}

// GetMember returns one mirrored member by id.
func (s *Store) GetMember(id int64) (*models.Member, error) {
	var m models.Member
	err := s.db.QueryRow(`
		SELECT id, name, class, phone, email, birthdate, active
		FROM members WHERE id = ?
	`, id).Scan(&m.ID, &m.Name, &m.Class, &m.Phone, &m.Email, &m.Birthdate, &m.Active)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "member not in mirror")
	}
	if err != nil {
		return nil, storageErr("get member", err)
	}
	return &m, nil
}

// ListMembers returns mirrored members ordered by name. When activeOnly is
// set, inactive members are filtered out, matching the server's
// /members/active endpoint.
func (s *Store) ListMembers(activeOnly bool) ([]models.Member, error) {
	query := `
		SELECT id, name, class, phone, email, birthdate, active
		FROM members ORDER BY name
	`
	if activeOnly {
		query = `
			SELECT id, name, class, phone, email, birthdate, active
			FROM members WHERE active = 1 ORDER BY name
		`
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, storageErr("list members", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Class, &m.Phone, &m.Email, &m.Birthdate, &m.Active); err != nil {
			return nil, storageErr("scan member", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate members", err)
	}
	return members, nil
}

// PutClasses upserts a batch of classes into the mirror.
func (s *Store) PutClasses(classes []models.ClassGroup) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("begin classes refresh", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO classes (id, name, teacher, description, room, schedule, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return storageErr("prepare classes refresh", err)
	}
	defer stmt.Close()

	for _, c := range classes {
		if _, err := stmt.Exec(c.ID, c.Name, c.Teacher, c.Description, c.Room, c.Schedule, c.Active); err != nil {
			return storageErr("upsert class", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit classes refresh", err)
	}
	return nil
}

// ListClasses returns mirrored classes ordered by name.
func (s *Store) ListClasses(activeOnly bool) ([]models.ClassGroup, error) {
	query := `
		SELECT id, name, teacher, description, room, schedule, active
		FROM classes ORDER BY name
	`
	if activeOnly {
		query = `
			SELECT id, name, teacher, description, room, schedule, active
			FROM classes WHERE active = 1 ORDER BY name
		`
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, storageErr("list classes", err)
	}
	defer rows.Close()

	var classes []models.ClassGroup
	for rows.Next() {
		var c models.ClassGroup
		if err := rows.Scan(&c.ID, &c.Name, &c.Teacher, &c.Description, &c.Room, &c.Schedule, &c.Active); err != nil {
			return nil, storageErr("scan class", err)
		}
		classes = append(classes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate classes", err)
	}
	return classes, nil
}

// PutAttendance upserts one attendance record, keyed (member_id, date) the
// same way the server is.
func (s *Store) PutAttendance(rec models.AttendanceRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO attendance (member_id, date, status, check_in_time)
		VALUES (?, ?, ?, ?)
	`, rec.MemberID, rec.Date, string(rec.Status), rec.CheckInTime)
	if err != nil {
		return storageErr("upsert attendance", err)
	}
	return nil
}

// PutAttendanceBatch upserts a batch of attendance records in one
// transaction, used when refreshing a whole day from the server.
func (s *Store) PutAttendanceBatch(recs []models.AttendanceRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("begin attendance refresh", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO attendance (member_id, date, status, check_in_time)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return storageErr("prepare attendance refresh", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.Exec(rec.MemberID, rec.Date, string(rec.Status), rec.CheckInTime); err != nil {
			return storageErr("upsert attendance", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit attendance refresh", err)
	}
	return nil
}

// AttendanceSummaryRange aggregates mirrored attendance per date across
// [startDate, endDate], mirroring the server's summary report shape.
func (s *Store) AttendanceSummaryRange(startDate, endDate string) ([]models.AttendanceSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			date,
			COUNT(*) AS total,
			SUM(CASE WHEN status = 'present' THEN 1 ELSE 0 END) AS present,
			SUM(CASE WHEN status = 'late' THEN 1 ELSE 0 END) AS late,
			SUM(CASE WHEN status = 'absent' THEN 1 ELSE 0 END) AS absent
		FROM attendance
		WHERE date BETWEEN ? AND ?
		GROUP BY date
		ORDER BY date
	`, startDate, endDate)
	if err != nil {
		return nil, storageErr("attendance summary", err)
	}
	defer rows.Close()

	var summary []models.AttendanceSummary
	for rows.Next() {
		var s models.AttendanceSummary
		if err := rows.Scan(&s.Date, &s.Total, &s.Present, &s.Late, &s.Absent); err != nil {
			return nil, storageErr("scan summary", err)
		}
		summary = append(summary, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate summary", err)
	}
	return summary, nil
}

// AttendanceByDate returns mirrored attendance records for one date.
func (s *Store) AttendanceByDate(date string) ([]models.AttendanceRecord, error) {
	rows, err := s.db.Query(`
		SELECT member_id, date, status, check_in_time
		FROM attendance WHERE date = ?
		ORDER BY member_id
	`, date)
	if err != nil {
		return nil, storageErr("attendance by date", err)
	}
	defer rows.Close()

	var recs []models.AttendanceRecord
	for rows.Next() {
		var rec models.AttendanceRecord
		var status string
		if err := rows.Scan(&rec.MemberID, &rec.Date, &status, &rec.CheckInTime); err != nil {
			return nil, storageErr("scan attendance", err)
		}
		rec.Status = models.AttendanceStatus(status)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate attendance", err)
	}
	return recs, nil
}
