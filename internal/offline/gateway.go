// Package offline wraps the remote API client so callers never have to
// branch on connectivity. Writes that cannot reach the server are captured
// in the durable queue and answered with a tagged pending result; reads
// fall back to the local mirror.
package offline

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/logging"
	"github.com/ebdtools/attendsync/internal/models"
	"github.com/ebdtools/attendsync/internal/store"
)

// Provenance tags a write result so consumers cannot mistake a tentative
// record for a server-confirmed one.
type Provenance string

const (
	// ProvenanceConfirmed marks a result the server acknowledged.
	ProvenanceConfirmed Provenance = "confirmed"
	// ProvenancePending marks an optimistic result backed only by a
	// queued operation.
	ProvenancePending Provenance = "pending"
)

// AttendanceResult is the tagged outcome of an attendance write.
type AttendanceResult struct {
	Record     models.AttendanceRecord
	Provenance Provenance
	// OperationID is the queue id backing a pending result.
	OperationID int64
}

// MemberResult is the tagged outcome of a member write. A pending result
// carries a timestamp-derived surrogate id, never a server id.
type MemberResult struct {
	Member      models.Member
	Provenance  Provenance
	OperationID int64
}

// Remote is the API client surface the gateway intercepts.
type Remote interface {
	MarkAttendance(ctx context.Context, p models.AttendancePayload) (*models.AttendanceRecord, error)
	CreateMember(ctx context.Context, p models.MemberPayload) (*models.Member, error)
	UpdateMember(ctx context.Context, id int64, p models.MemberPayload) (*models.Member, error)
	ListActiveMembers(ctx context.Context, search, class string) ([]models.Member, error)
	ListMembers(ctx context.Context) ([]models.Member, error)
	DailyAttendance(ctx context.Context, date string) ([]models.AttendanceRecord, error)
	AttendanceSummary(ctx context.Context, startDate, endDate string) ([]models.AttendanceSummary, error)
	ListClasses(ctx context.Context, activeOnly bool) ([]models.ClassGroup, error)
}

// OnlineChecker reports current reachability, used to skip doomed calls.
type OnlineChecker interface {
	IsOnline() bool
}

// Gateway exposes the same call surface as the direct API client.
type Gateway struct {
	remote Remote
	store  *store.Store
	online OnlineChecker
}

// NewGateway creates a Gateway. A nil online checker means calls are
// always attempted first and classified by their outcome.
func NewGateway(remote Remote, st *store.Store, online OnlineChecker) *Gateway {
	return &Gateway{
		remote: remote,
		store:  st,
		online: online,
	}
}

func (g *Gateway) isOnline() bool {
	return g.online == nil || g.online.IsOnline()
}

// MarkAttendance records a roll-call entry. Offline or on a connectivity
// failure the write is queued and a pending result returned; a server
// rejection is returned to the caller as-is.
func (g *Gateway) MarkAttendance(ctx context.Context, p models.AttendancePayload) (*AttendanceResult, error) {
	if g.isOnline() {
		rec, err := g.remote.MarkAttendance(ctx, p)
		if err == nil {
			if merr := g.store.PutAttendance(*rec); merr != nil {
				logging.Warn("Failed to refresh attendance mirror",
					map[string]interface{}{"error": merr.Error()})
			}
			return &AttendanceResult{Record: *rec, Provenance: ProvenanceConfirmed}, nil
		}
		if !apperrors.IsConnectivity(err) {
			return nil, err
		}
		logging.Warn("Attendance write failed against network, queueing",
			map[string]interface{}{"member_id": p.MemberID, "date": p.Date})
	}

	op, err := g.store.Enqueue(models.OpAttendance, p)
	if err != nil {
		logging.Error("Failed to queue attendance write", err, nil)
		return nil, err
	}

	return &AttendanceResult{
		Record: models.AttendanceRecord{
			MemberID:    p.MemberID,
			Date:        p.Date,
			Status:      p.Status,
			CheckInTime: p.CheckInTime,
		},
		Provenance:  ProvenancePending,
		OperationID: op.ID,
	}, nil
}

// CreateMember creates a member, queueing the write when the server is
// unreachable.
func (g *Gateway) CreateMember(ctx context.Context, p models.MemberPayload) (*MemberResult, error) {
	if g.isOnline() {
		m, err := g.remote.CreateMember(ctx, p)
		if err == nil {
			if merr := g.store.PutMember(*m); merr != nil {
				logging.Warn("Failed to refresh member mirror",
					map[string]interface{}{"error": merr.Error()})
			}
			return &MemberResult{Member: *m, Provenance: ProvenanceConfirmed}, nil
		}
		if !apperrors.IsConnectivity(err) {
			return nil, err
		}
		logging.Warn("Member write failed against network, queueing",
			map[string]interface{}{"name": p.Name})
	}

	op, err := g.store.Enqueue(models.OpMember, p)
	if err != nil {
		logging.Error("Failed to queue member write", err, nil)
		return nil, err
	}

	return &MemberResult{
		Member: models.Member{
			// Surrogate id derived from the enqueue time; the real id is
			// assigned by the server at replay.
			ID:        time.Now().UnixMilli(),
			Name:      p.Name,
			Class:     p.Class,
			Phone:     p.Phone,
			Email:     p.Email,
			Birthdate: p.Birthdate,
			Active:    p.Active,
		},
		Provenance:  ProvenancePending,
		OperationID: op.ID,
	}, nil
}

// UpdateMember updates an existing member, queueing the write when the
// server is unreachable. The pending result keeps the member's real id,
// unlike a pending create.
func (g *Gateway) UpdateMember(ctx context.Context, id int64, p models.MemberPayload) (*MemberResult, error) {
	if g.isOnline() {
		m, err := g.remote.UpdateMember(ctx, id, p)
		if err == nil {
			if merr := g.store.PutMember(*m); merr != nil {
				logging.Warn("Failed to refresh member mirror",
					map[string]interface{}{"error": merr.Error()})
			}
			return &MemberResult{Member: *m, Provenance: ProvenanceConfirmed}, nil
		}
		if !apperrors.IsConnectivity(err) {
			return nil, err
		}
		logging.Warn("Member update failed against network, queueing",
			map[string]interface{}{"member_id": id})
	}

	op, err := g.store.Enqueue(models.OpMemberUpdate, models.MemberUpdatePayload{ID: id, MemberPayload: p})
	if err != nil {
		logging.Error("Failed to queue member update", err, nil)
		return nil, err
	}

	return &MemberResult{
		Member: models.Member{
			ID:        id,
			Name:      p.Name,
			Class:     p.Class,
			Phone:     p.Phone,
			Email:     p.Email,
			Birthdate: p.Birthdate,
			Active:    p.Active,
		},
		Provenance:  ProvenancePending,
		OperationID: op.ID,
	}, nil
}

// ListActiveMembers returns active members, from the server when online
// (refreshing the mirror) and from the mirror otherwise.
func (g *Gateway) ListActiveMembers(ctx context.Context, search, class string) ([]models.Member, error) {
	if g.isOnline() {
		members, err := g.remote.ListActiveMembers(ctx, search, class)
		if err == nil {
			if merr := g.store.PutMembers(members); merr != nil {
				logging.Warn("Failed to refresh members mirror",
					map[string]interface{}{"error": merr.Error()})
			}
			return members, nil
		}
		if !apperrors.IsConnectivity(err) {
			return nil, err
		}
		logging.Warn("Member list fetch failed, serving mirror", nil)
	}

	members, err := g.store.ListMembers(true)
	if err != nil {
		logging.Error("Mirror read failed, serving empty member list", err, nil)
		return []models.Member{}, nil
	}
	return filterMembers(members, search, class), nil
}

// ListMembers returns all members with the same online/mirror policy.
func (g *Gateway) ListMembers(ctx context.Context) ([]models.Member, error) {
	if g.isOnline() {
		members, err := g.remote.ListMembers(ctx)
		if err == nil {
			if merr := g.store.PutMembers(members); merr != nil {
				logging.Warn("Failed to refresh members mirror",
					map[string]interface{}{"error": merr.Error()})
			}
			return members, nil
		}
		if !apperrors.IsConnectivity(err) {
			return nil, err
		}
		logging.Warn("Member list fetch failed, serving mirror", nil)
	}

	members, err := g.store.ListMembers(false)
	if err != nil {
		logging.Error("Mirror read failed, serving empty member list", err, nil)
		return []models.Member{}, nil
	}
	return members, nil
}

// DailyAttendance returns one day's roll call, refreshing the mirror on a
// successful fetch.
func (g *Gateway) DailyAttendance(ctx context.Context, date string) ([]models.AttendanceRecord, error) {
	if g.isOnline() {
		recs, err := g.remote.DailyAttendance(ctx, date)
		if err == nil {
			if merr := g.store.PutAttendanceBatch(recs); merr != nil {
				logging.Warn("Failed to refresh attendance mirror",
					map[string]interface{}{"error": merr.Error()})
			}
			return recs, nil
		}
		if !apperrors.IsConnectivity(err) {
			return nil, err
		}
		logging.Warn("Attendance fetch failed, serving mirror",
			map[string]interface{}{"date": date})
	}

	recs, err := g.store.AttendanceByDate(date)
	if err != nil {
		logging.Error("Mirror read failed, serving empty attendance", err, nil)
		return []models.AttendanceRecord{}, nil
	}
	return recs, nil
}

// AttendanceSummary returns per-date totals, computed from the mirror
// when the server is unreachable.
func (g *Gateway) AttendanceSummary(ctx context.Context, startDate, endDate string) ([]models.AttendanceSummary, error) {
	if g.isOnline() {
		summary, err := g.remote.AttendanceSummary(ctx, startDate, endDate)
		if err == nil {
			return summary, nil
		}
		if !apperrors.IsConnectivity(err) {
			return nil, err
		}
		logging.Warn("Summary fetch failed, computing from mirror", nil)
	}

	summary, err := g.store.AttendanceSummaryRange(startDate, endDate)
	if err != nil {
		logging.Error("Mirror read failed, serving empty summary", err, nil)
		return []models.AttendanceSummary{}, nil
	}
	return summary, nil
}

// ListClasses returns classes with the same online/mirror policy.
func (g *Gateway) ListClasses(ctx context.Context, activeOnly bool) ([]models.ClassGroup, error) {
	if g.isOnline() {
		classes, err := g.remote.ListClasses(ctx, activeOnly)
		if err == nil {
			if merr := g.store.PutClasses(classes); merr != nil {
				logging.Warn("Failed to refresh classes mirror",
					map[string]interface{}{"error": merr.Error()})
			}
			return classes, nil
		}
		if !apperrors.IsConnectivity(err) {
			return nil, err
		}
		logging.Warn("Class list fetch failed, serving mirror", nil)
	}

	classes, err := g.store.ListClasses(activeOnly)
	if err != nil {
		logging.Error("Mirror read failed, serving empty class list", err, nil)
		return []models.ClassGroup{}, nil
	}
	return classes, nil
}

// PendingCount reports how many writes await replay, for UI badges.
func (g *Gateway) PendingCount() (int, error) {
	return g.store.CountPending()
}

// filterMembers applies the server's active-list filters to mirrored
// members: case-insensitive name/email/phone search plus exact class.
func filterMembers(members []models.Member, search, class string) []models.Member {
	search = strings.ToLower(strings.TrimSpace(search))
	class = strings.TrimSpace(class)
	if search == "" && class == "" {
		return members
	}

	out := make([]models.Member, 0, len(members))
	for _, m := range members {
		if class != "" && m.Class != class {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(m.Name), search) &&
			!strings.Contains(strings.ToLower(m.Email), search) &&
			!strings.Contains(m.Phone, search) {
			continue
		}
		out = append(out, m)
	}
	return out
}
