package sync

import (
	"context"
	"encoding/json"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/logging"
	"github.com/ebdtools/attendsync/internal/models"
	"github.com/ebdtools/attendsync/internal/store"
)

// Remote is the slice of the API client the replay handlers need.
type Remote interface {
	MarkAttendance(ctx context.Context, p models.AttendancePayload) (*models.AttendanceRecord, error)
	CreateMember(ctx context.Context, p models.MemberPayload) (*models.Member, error)
	UpdateMember(ctx context.Context, id int64, p models.MemberPayload) (*models.Member, error)
}

// RegisterDefaultHandlers installs the handlers for the built-in operation
// types. Replays rely on the server's upsert on (memberId, date), so a
// duplicate replay updates rather than duplicates.
func RegisterDefaultHandlers(e *Engine, remote Remote, mirror *store.Store) {
	e.Register(models.OpAttendance, attendanceHandler(remote, mirror))
	e.Register(models.OpMember, memberHandler(remote, mirror))
	e.Register(models.OpMemberUpdate, memberUpdateHandler(remote, mirror))
}

func attendanceHandler(remote Remote, mirror *store.Store) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p models.AttendancePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "malformed attendance payload", err)
		}

		rec, err := remote.MarkAttendance(ctx, p)
		if err != nil {
			return err
		}

		// Refresh the mirror so offline reads see the confirmed record.
		if err := mirror.PutAttendance(*rec); err != nil {
			logging.Warn("Failed to refresh attendance mirror after replay",
				map[string]interface{}{"member_id": rec.MemberID, "date": rec.Date, "error": err.Error()})
		}
		return nil
	}
}

func memberHandler(remote Remote, mirror *store.Store) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p models.MemberPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "malformed member payload", err)
		}

		m, err := remote.CreateMember(ctx, p)
		if err != nil {
			return err
		}

		if err := mirror.PutMember(*m); err != nil {
			logging.Warn("Failed to refresh member mirror after replay",
				map[string]interface{}{"member_id": m.ID, "error": err.Error()})
		}
		return nil
	}
}

func memberUpdateHandler(remote Remote, mirror *store.Store) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p models.MemberUpdatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "malformed member update payload", err)
		}

		m, err := remote.UpdateMember(ctx, p.ID, p.MemberPayload)
		if err != nil {
			return err
		}

		if err := mirror.PutMember(*m); err != nil {
			logging.Warn("Failed to refresh member mirror after replay",
				map[string]interface{}{"member_id": m.ID, "error": err.Error()})
		}
		return nil
	}
}
