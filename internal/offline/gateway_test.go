package offline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/models"
	"github.com/ebdtools/attendsync/internal/store"
	syncpkg "github.com/ebdtools/attendsync/internal/sync"
)

// fakeRemote implements Remote with scriptable failures and call recording.
type fakeRemote struct {
	err error

	attendance []models.AttendancePayload
	members    []models.MemberPayload
	updates    []models.MemberUpdatePayload

	activeMembers []models.Member
	daily         []models.AttendanceRecord
	classes       []models.ClassGroup
}

func (f *fakeRemote) MarkAttendance(ctx context.Context, p models.AttendancePayload) (*models.AttendanceRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.attendance = append(f.attendance, p)
	return &models.AttendanceRecord{MemberID: p.MemberID, Date: p.Date, Status: p.Status, CheckInTime: p.CheckInTime}, nil
}

func (f *fakeRemote) CreateMember(ctx context.Context, p models.MemberPayload) (*models.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.members = append(f.members, p)
	return &models.Member{ID: int64(100 + len(f.members)), Name: p.Name, Class: p.Class, Active: p.Active}, nil
}

func (f *fakeRemote) UpdateMember(ctx context.Context, id int64, p models.MemberPayload) (*models.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updates = append(f.updates, models.MemberUpdatePayload{ID: id, MemberPayload: p})
	return &models.Member{ID: id, Name: p.Name, Class: p.Class, Active: p.Active}, nil
}

func (f *fakeRemote) ListActiveMembers(ctx context.Context, search, class string) ([]models.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.activeMembers, nil
}

func (f *fakeRemote) ListMembers(ctx context.Context) ([]models.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.activeMembers, nil
}

func (f *fakeRemote) DailyAttendance(ctx context.Context, date string) ([]models.AttendanceRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.daily, nil
}

func (f *fakeRemote) AttendanceSummary(ctx context.Context, startDate, endDate string) ([]models.AttendanceSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.AttendanceSummary{{Date: startDate, Total: len(f.daily)}}, nil
}

func (f *fakeRemote) ListClasses(ctx context.Context, activeOnly bool) ([]models.ClassGroup, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.classes, nil
}

// staticOnline is a fixed reachability answer.
type staticOnline bool

func (s staticOnline) IsOnline() bool { return bool(s) }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMarkAttendanceConfirmed tests the online path: remote call, mirror
// refresh, confirmed provenance.
func TestMarkAttendanceConfirmed(t *testing.T) {
	s := openTestStore(t)
	remote := &fakeRemote{}
	g := NewGateway(remote, s, staticOnline(true))

	res, err := g.MarkAttendance(context.Background(), models.AttendancePayload{
		MemberID: 3, Date: "2024-05-01", Status: models.StatusPresent,
	})
	if err != nil {
		t.Fatalf("MarkAttendance failed: %v", err)
	}
	if res.Provenance != ProvenanceConfirmed {
		t.Errorf("Expected confirmed provenance, got %s", res.Provenance)
	}
	if len(remote.attendance) != 1 {
		t.Errorf("Expected one remote call, got %d", len(remote.attendance))
	}

	n, _ := g.PendingCount()
	if n != 0 {
		t.Errorf("Expected nothing queued, got %d", n)
	}

	// The confirmed write must be visible in the mirror.
	recs, _ := s.AttendanceByDate("2024-05-01")
	if len(recs) != 1 || recs[0].MemberID != 3 {
		t.Errorf("Expected mirror refresh, got %+v", recs)
	}
}

// TestMarkAttendanceOffline tests that an offline write queues exactly one
// operation and returns a pending result echoing the input.
func TestMarkAttendanceOffline(t *testing.T) {
	s := openTestStore(t)
	remote := &fakeRemote{}
	g := NewGateway(remote, s, staticOnline(false))

	res, err := g.MarkAttendance(context.Background(), models.AttendancePayload{
		MemberID: 3, Date: "2024-05-01", Status: models.StatusLate, CheckInTime: "09:40",
	})
	if err != nil {
		t.Fatalf("MarkAttendance failed: %v", err)
	}
	if res.Provenance != ProvenancePending {
		t.Errorf("Expected pending provenance, got %s", res.Provenance)
	}
	if res.OperationID <= 0 {
		t.Errorf("Expected a queue id on the pending result, got %d", res.OperationID)
	}
	if res.Record.Status != models.StatusLate || res.Record.CheckInTime != "09:40" {
		t.Errorf("Pending result must echo the input, got %+v", res.Record)
	}
	if len(remote.attendance) != 0 {
		t.Error("Offline write must not hit the remote")
	}

	ops, _ := s.ListPending()
	if len(ops) != 1 {
		t.Fatalf("Expected exactly one queued op, got %d", len(ops))
	}
	var p models.AttendancePayload
	if err := json.Unmarshal(ops[0].Payload, &p); err != nil {
		t.Fatalf("Failed to unmarshal queued payload: %v", err)
	}
	if p.MemberID != 3 || p.Status != models.StatusLate {
		t.Errorf("Queued payload does not match the write: %+v", p)
	}
}

// TestMarkAttendanceConnectivityFailure tests that a network failure on an
// attempted call also queues instead of surfacing the error.
func TestMarkAttendanceConnectivityFailure(t *testing.T) {
	s := openTestStore(t)
	remote := &fakeRemote{err: apperrors.New(apperrors.ErrNetwork, "connection refused")}
	g := NewGateway(remote, s, staticOnline(true))

	res, err := g.MarkAttendance(context.Background(), models.AttendancePayload{
		MemberID: 1, Date: "2024-05-01", Status: models.StatusPresent,
	})
	if err != nil {
		t.Fatalf("Expected queued fallback, got error: %v", err)
	}
	if res.Provenance != ProvenancePending {
		t.Errorf("Expected pending provenance, got %s", res.Provenance)
	}

	n, _ := g.PendingCount()
	if n != 1 {
		t.Errorf("Expected 1 queued op, got %d", n)
	}
}

// TestMarkAttendanceRejectionPropagates tests that a server rejection is
// returned to the caller and never queued.
func TestMarkAttendanceRejectionPropagates(t *testing.T) {
	s := openTestStore(t)
	remote := &fakeRemote{err: apperrors.New(apperrors.ErrRemoteRejected, "HTTP 422")}
	g := NewGateway(remote, s, staticOnline(true))

	_, err := g.MarkAttendance(context.Background(), models.AttendancePayload{
		MemberID: 1, Date: "2024-05-01", Status: "invalid",
	})
	if !apperrors.Is(err, apperrors.ErrRemoteRejected) {
		t.Fatalf("Expected REMOTE_REJECTED, got %v", err)
	}

	n, _ := g.PendingCount()
	if n != 0 {
		t.Errorf("Rejected write must not be queued, got %d", n)
	}
}

// TestCreateMemberOffline tests the surrogate id on a pending member result.
func TestCreateMemberOffline(t *testing.T) {
	s := openTestStore(t)
	g := NewGateway(&fakeRemote{}, s, staticOnline(false))

	before := time.Now().UnixMilli()
	res, err := g.CreateMember(context.Background(), models.MemberPayload{Name: "Ana", Class: "Youth", Active: true})
	if err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	if res.Provenance != ProvenancePending {
		t.Errorf("Expected pending provenance, got %s", res.Provenance)
	}
	if res.Member.ID < before {
		t.Errorf("Expected timestamp surrogate id, got %d", res.Member.ID)
	}

	ops, _ := s.ListPendingByType(models.OpMember)
	if len(ops) != 1 {
		t.Errorf("Expected one queued member op, got %d", len(ops))
	}
}

// TestUpdateMemberConfirmed tests the online update path with a mirror
// refresh.
func TestUpdateMemberConfirmed(t *testing.T) {
	s := openTestStore(t)
	remote := &fakeRemote{}
	g := NewGateway(remote, s, staticOnline(true))

	res, err := g.UpdateMember(context.Background(), 7, models.MemberPayload{Name: "Ana Souza", Class: "Adults", Active: true})
	if err != nil {
		t.Fatalf("UpdateMember failed: %v", err)
	}
	if res.Provenance != ProvenanceConfirmed {
		t.Errorf("Expected confirmed provenance, got %s", res.Provenance)
	}
	if len(remote.updates) != 1 || remote.updates[0].ID != 7 {
		t.Errorf("Expected one remote update for member 7, got %+v", remote.updates)
	}

	m, err := s.GetMember(7)
	if err != nil {
		t.Fatalf("GetMember failed: %v", err)
	}
	if m.Class != "Adults" {
		t.Errorf("Expected mirror refreshed with the update, got %+v", m)
	}
}

// TestUpdateMemberOfflineThenDrain tests that an offline update queues
// with the member's real id and replays through the drain.
func TestUpdateMemberOfflineThenDrain(t *testing.T) {
	s := openTestStore(t)
	remote := &fakeRemote{}
	g := NewGateway(remote, s, staticOnline(false))

	res, err := g.UpdateMember(context.Background(), 7, models.MemberPayload{Name: "Ana Souza", Class: "Adults", Active: true})
	if err != nil {
		t.Fatalf("UpdateMember failed: %v", err)
	}
	if res.Provenance != ProvenancePending {
		t.Errorf("Expected pending provenance, got %s", res.Provenance)
	}
	if res.Member.ID != 7 {
		t.Errorf("A pending update must keep the real id, got %d", res.Member.ID)
	}

	ops, _ := s.ListPendingByType(models.OpMemberUpdate)
	if len(ops) != 1 {
		t.Fatalf("Expected one queued update, got %d", len(ops))
	}
	var p models.MemberUpdatePayload
	if err := json.Unmarshal(ops[0].Payload, &p); err != nil {
		t.Fatalf("Failed to unmarshal queued payload: %v", err)
	}
	if p.ID != 7 || p.Name != "Ana Souza" {
		t.Errorf("Queued payload does not match the update: %+v", p)
	}

	engine := syncpkg.NewEngine(s, syncpkg.DefaultRetryPolicy(), time.Minute)
	syncpkg.RegisterDefaultHandlers(engine, remote, s)
	report, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("Expected 1 replayed, got %+v", report)
	}

	if len(remote.updates) != 1 || remote.updates[0].ID != 7 {
		t.Errorf("Expected the queued update on the server, got %+v", remote.updates)
	}
	m, err := s.GetMember(7)
	if err != nil {
		t.Fatalf("GetMember after drain failed: %v", err)
	}
	if m.Class != "Adults" {
		t.Errorf("Expected the replayed update mirrored, got %+v", m)
	}
}

// TestListActiveMembersMirrorFallback tests reads served from the mirror
// with the server's filters applied locally.
func TestListActiveMembersMirrorFallback(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutMembers([]models.Member{
		{ID: 1, Name: "Ana Souza", Class: "Youth", Email: "ana@example.com", Active: true},
		{ID: 2, Name: "Bruno Lima", Class: "Adults", Active: true},
		{ID: 3, Name: "Caio Nunes", Class: "Youth", Active: false},
	}); err != nil {
		t.Fatalf("PutMembers failed: %v", err)
	}

	g := NewGateway(&fakeRemote{}, s, staticOnline(false))

	members, err := g.ListActiveMembers(context.Background(), "", "")
	if err != nil {
		t.Fatalf("ListActiveMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 active members from mirror, got %d", len(members))
	}

	members, err = g.ListActiveMembers(context.Background(), "ana", "")
	if err != nil {
		t.Fatalf("ListActiveMembers(search) failed: %v", err)
	}
	if len(members) != 1 || members[0].Name != "Ana Souza" {
		t.Errorf("Expected search filter applied locally, got %+v", members)
	}

	members, err = g.ListActiveMembers(context.Background(), "", "Adults")
	if err != nil {
		t.Fatalf("ListActiveMembers(class) failed: %v", err)
	}
	if len(members) != 1 || members[0].Name != "Bruno Lima" {
		t.Errorf("Expected class filter applied locally, got %+v", members)
	}
}

// TestListActiveMembersRefreshesMirror tests that a successful fetch lands
// in the mirror for later offline reads.
func TestListActiveMembersRefreshesMirror(t *testing.T) {
	s := openTestStore(t)
	remote := &fakeRemote{activeMembers: []models.Member{
		{ID: 1, Name: "Ana", Class: "Youth", Active: true},
	}}
	g := NewGateway(remote, s, staticOnline(true))

	if _, err := g.ListActiveMembers(context.Background(), "", ""); err != nil {
		t.Fatalf("ListActiveMembers failed: %v", err)
	}

	mirrored, err := s.ListMembers(true)
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(mirrored) != 1 || mirrored[0].Name != "Ana" {
		t.Errorf("Expected fetch mirrored locally, got %+v", mirrored)
	}
}

// TestAttendanceSummaryComputedFromMirror tests the offline summary path.
func TestAttendanceSummaryComputedFromMirror(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutAttendanceBatch([]models.AttendanceRecord{
		{MemberID: 1, Date: "2024-05-01", Status: models.StatusPresent},
		{MemberID: 2, Date: "2024-05-01", Status: models.StatusAbsent},
	}); err != nil {
		t.Fatalf("PutAttendanceBatch failed: %v", err)
	}

	g := NewGateway(&fakeRemote{}, s, staticOnline(false))
	summary, err := g.AttendanceSummary(context.Background(), "2024-05-01", "2024-05-31")
	if err != nil {
		t.Fatalf("AttendanceSummary failed: %v", err)
	}
	if len(summary) != 1 || summary[0].Total != 2 || summary[0].Present != 1 {
		t.Errorf("Unexpected mirror summary: %+v", summary)
	}
}

// TestOfflineWriteThenDrain tests the round trip: queue a write offline,
// drain it once connectivity returns, and find it on the server and in the
// mirror with an empty queue.
func TestOfflineWriteThenDrain(t *testing.T) {
	s := openTestStore(t)
	remote := &fakeRemote{}
	g := NewGateway(remote, s, staticOnline(false))

	if _, err := g.MarkAttendance(context.Background(), models.AttendancePayload{
		MemberID: 9, Date: "2024-05-01", Status: models.StatusPresent, CheckInTime: "09:00",
	}); err != nil {
		t.Fatalf("MarkAttendance failed: %v", err)
	}

	n, _ := g.PendingCount()
	if n != 1 {
		t.Fatalf("Expected 1 queued write, got %d", n)
	}

	engine := syncpkg.NewEngine(s, syncpkg.DefaultRetryPolicy(), time.Minute)
	syncpkg.RegisterDefaultHandlers(engine, remote, s)

	report, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("Expected 1 replayed, got %+v", report)
	}

	n, _ = g.PendingCount()
	if n != 0 {
		t.Errorf("Expected empty queue after drain, got %d", n)
	}
	if len(remote.attendance) != 1 || remote.attendance[0].MemberID != 9 {
		t.Errorf("Expected the queued write on the server, got %+v", remote.attendance)
	}
	recs, _ := s.AttendanceByDate("2024-05-01")
	if len(recs) != 1 || recs[0].MemberID != 9 {
		t.Errorf("Expected the replayed write mirrored, got %+v", recs)
	}
}

// TestSameKeyWritesLastWins tests that two queued writes for the same
// (member, date) converge on the later status after a drain.
func TestSameKeyWritesLastWins(t *testing.T) {
	s := openTestStore(t)
	remote := &fakeRemote{}
	g := NewGateway(remote, s, staticOnline(false))

	if _, err := g.MarkAttendance(context.Background(), models.AttendancePayload{
		MemberID: 4, Date: "2024-05-01", Status: models.StatusAbsent,
	}); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if _, err := g.MarkAttendance(context.Background(), models.AttendancePayload{
		MemberID: 4, Date: "2024-05-01", Status: models.StatusPresent, CheckInTime: "09:20",
	}); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	engine := syncpkg.NewEngine(s, syncpkg.DefaultRetryPolicy(), time.Minute)
	syncpkg.RegisterDefaultHandlers(engine, remote, s)
	if _, err := engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	// FIFO replay means the second write reaches the server last.
	if len(remote.attendance) != 2 {
		t.Fatalf("Expected both writes replayed, got %d", len(remote.attendance))
	}
	last := remote.attendance[1]
	if last.Status != models.StatusPresent || last.CheckInTime != "09:20" {
		t.Errorf("Expected the later write to win, got %+v", last)
	}

	recs, _ := s.AttendanceByDate("2024-05-01")
	if len(recs) != 1 || recs[0].Status != models.StatusPresent {
		t.Errorf("Expected a single converged mirror record, got %+v", recs)
	}
}
