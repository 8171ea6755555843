package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ironpulse/gymgate/internal/access"
	"github.com/ironpulse/gymgate/internal/directory"
	"github.com/ironpulse/gymgate/internal/mirror"
)

type stubDirectory struct {
	users map[string]*directory.User
	err   error
}

func (s *stubDirectory) FindUser(_ context.Context, userID string) (*directory.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	user, ok := s.users[userID]
	if !ok {
		return nil, directory.ErrUserNotFound
	}
	return user, nil
}

type stubVerifier struct {
	decision access.Decision
	lastReq  access.Request
}

func (s *stubVerifier) Verify(_ context.Context, req access.Request) access.Decision {
	s.lastReq = req
	return s.decision
}

type stubSyncer struct {
	doorOpen      bool
	doorUpdated   time.Time
	doorErr       error
	setCalls      []bool
	setReasons    []string
	staffFields   mirror.Fields
	scanReasons   []string
	setDoorResult mirror.Result
}

func (s *stubSyncer) SetDoorStatus(_ context.Context, _ mirror.Keys, open bool, _, _, reason string) mirror.Result {
	s.setCalls = append(s.setCalls, open)
	s.setReasons = append(s.setReasons, reason)
	return s.setDoorResult
}

func (s *stubSyncer) DoorStatus(_ context.Context, _ mirror.Keys) (bool, time.Time, error) {
	if s.doorErr != nil {
		return false, time.Time{}, s.doorErr
	}
	return s.doorOpen, s.doorUpdated, nil
}

func (s *stubSyncer) MirrorStaff(_ context.Context, _ mirror.Keys, _ string, fields mirror.Fields) mirror.Result {
	s.staffFields = fields
	return mirror.Result{PrimaryOK: true, SecondaryOK: true}
}

func (s *stubSyncer) LogScan(_ context.Context, _ mirror.Keys, _ string, _, reason string) mirror.Result {
	s.scanReasons = append(s.scanReasons, reason)
	return mirror.Result{PrimaryOK: true, SecondaryOK: true}
}

type stubNotifier struct {
	pushedEvent string
	pushedData  map[string]any
	delivered   bool
}

func (s *stubNotifier) Push(_ string, event string, data map[string]any) bool {
	s.pushedEvent = event
	s.pushedData = data
	return s.delivered
}

func grantedDecision(owner *directory.User, actor *directory.User) access.Decision {
	return access.Decision{
		Verdict:   access.Verdict{Outcome: access.OutcomeGrant, Reason: access.ReasonOK},
		Tenant:    owner,
		Principal: actor,
		Keys:      access.TenantKeysFor(owner),
	}
}

func newTestController(t *testing.T, dir *stubDirectory, verifier *stubVerifier, sync *stubSyncer, hub *stubNotifier) *Controller {
	t.Helper()
	cfg := ControllerConfig{
		Engine:    verifier,
		Directory: dir,
		Sync:      sync,
		Clock:     func() time.Time { return time.Unix(1700000000, 0).UTC() },
	}
	// A nil *stubNotifier must mean "no hub": assigning it to the interface
	// field directly would make the nil check in transition pass.
	if hub != nil {
		cfg.Hub = hub
	}
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return controller
}

func TestToggleOpensAndMirrorsStaffPresence(t *testing.T) {
	owner := &directory.User{ID: "owner-1", Name: "Olive", Role: directory.RoleGymOwner, GymName: "Iron Temple"}
	dir := &stubDirectory{users: map[string]*directory.User{"owner-1": owner}}
	verifier := &stubVerifier{decision: grantedDecision(owner, owner)}
	sync := &stubSyncer{setDoorResult: mirror.Result{PrimaryOK: true, SecondaryOK: true}}
	hub := &stubNotifier{delivered: true}
	controller := newTestController(t, dir, verifier, sync, hub)

	result, err := controller.Toggle(context.Background(), "owner-1", true)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !result.Open || result.Action != "opened" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if verifier.lastReq.Kind != access.KindGateControl {
		t.Fatalf("expected gate-control verification, got %q", verifier.lastReq.Kind)
	}
	if len(sync.setCalls) != 1 || !sync.setCalls[0] {
		t.Fatalf("expected one door-open write, got %v", sync.setCalls)
	}
	if sync.staffFields == nil {
		t.Fatal("expected staff presence mirror on open")
	}
	if !result.Delivered || hub.pushedEvent != access.EventAccessResponse {
		t.Fatalf("expected device push, delivered=%v event=%q", result.Delivered, hub.pushedEvent)
	}
	if hub.pushedData["nodeMcuResponse"] != "allow" {
		t.Fatalf("expected allow instruction, got %v", hub.pushedData["nodeMcuResponse"])
	}
}

func TestToggleCloseSkipsStaffPresence(t *testing.T) {
	owner := &directory.User{ID: "owner-1", Name: "Olive", Role: directory.RoleGymOwner}
	dir := &stubDirectory{users: map[string]*directory.User{"owner-1": owner}}
	verifier := &stubVerifier{decision: grantedDecision(owner, owner)}
	sync := &stubSyncer{setDoorResult: mirror.Result{PrimaryOK: true}}
	controller := newTestController(t, dir, verifier, sync, nil)

	result, err := controller.Toggle(context.Background(), "owner-1", false)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if result.Open || result.Action != "closed" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if sync.staffFields != nil {
		t.Fatal("closing must not mirror staff presence")
	}
}

func TestToggleDeniesMembers(t *testing.T) {
	member := &directory.User{ID: "member-1", Role: directory.RoleMember, GymID: "owner-1"}
	dir := &stubDirectory{users: map[string]*directory.User{"member-1": member}}
	controller := newTestController(t, dir, &stubVerifier{}, &stubSyncer{}, nil)

	_, err := controller.Toggle(context.Background(), "member-1", true)
	var denial *DenialError
	if !errors.As(err, &denial) {
		t.Fatalf("expected DenialError, got %v", err)
	}
	if denial.Verdict.Reason != access.ReasonInvalidPrincipal {
		t.Fatalf("unexpected reason %q", denial.Verdict.Reason)
	}
}

func TestToggleDeniesUnassignedTrainer(t *testing.T) {
	trainer := &directory.User{ID: "trainer-1", Role: directory.RoleTrainer}
	dir := &stubDirectory{users: map[string]*directory.User{"trainer-1": trainer}}
	controller := newTestController(t, dir, &stubVerifier{}, &stubSyncer{}, nil)

	_, err := controller.Toggle(context.Background(), "trainer-1", true)
	var denial *DenialError
	if !errors.As(err, &denial) {
		t.Fatalf("expected DenialError, got %v", err)
	}
}

func TestToggleUnknownActor(t *testing.T) {
	dir := &stubDirectory{users: map[string]*directory.User{}}
	controller := newTestController(t, dir, &stubVerifier{}, &stubSyncer{}, nil)

	_, err := controller.Toggle(context.Background(), "ghost", true)
	var denial *DenialError
	if !errors.As(err, &denial) {
		t.Fatalf("expected DenialError, got %v", err)
	}
}

func TestStatusFailsClosed(t *testing.T) {
	owner := &directory.User{ID: "owner-1", Role: directory.RoleGymOwner}
	dir := &stubDirectory{users: map[string]*directory.User{"owner-1": owner}}
	verifier := &stubVerifier{decision: grantedDecision(owner, owner)}
	sync := &stubSyncer{doorErr: errors.New("store down")}
	controller := newTestController(t, dir, verifier, sync, nil)

	result, err := controller.Status(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if result.Open {
		t.Fatal("unreadable door state must report closed")
	}
}

func TestStatusReportsOpenState(t *testing.T) {
	owner := &directory.User{ID: "owner-1", Role: directory.RoleGymOwner}
	dir := &stubDirectory{users: map[string]*directory.User{"owner-1": owner}}
	verifier := &stubVerifier{decision: grantedDecision(owner, owner)}
	updated := time.Unix(1699990000, 0).UTC()
	sync := &stubSyncer{doorOpen: true, doorUpdated: updated}
	controller := newTestController(t, dir, verifier, sync, nil)

	result, err := controller.Status(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !result.Open || !result.Timestamp.Equal(updated) {
		t.Fatalf("unexpected status: %+v", result)
	}
}

func TestEmergencyAlwaysOpensAndLogs(t *testing.T) {
	owner := &directory.User{ID: "owner-1", Name: "Olive", Role: directory.RoleGymOwner}
	dir := &stubDirectory{users: map[string]*directory.User{"owner-1": owner}}
	verifier := &stubVerifier{decision: grantedDecision(owner, owner)}
	sync := &stubSyncer{setDoorResult: mirror.Result{PrimaryOK: true}}
	controller := newTestController(t, dir, verifier, sync, nil)

	result, err := controller.Emergency(context.Background(), "owner-1", "fire drill")
	if err != nil {
		t.Fatalf("Emergency: %v", err)
	}
	if !result.Open {
		t.Fatal("emergency must open the door")
	}
	if len(sync.setReasons) != 1 || sync.setReasons[0] != "emergency: fire drill" {
		t.Fatalf("unexpected door reasons %v", sync.setReasons)
	}
	if len(sync.scanReasons) != 1 {
		t.Fatalf("expected one scan-log entry, got %v", sync.scanReasons)
	}
}

func TestStaffEntryOpensAndLogs(t *testing.T) {
	owner := &directory.User{ID: "owner-1", Name: "Olive", Role: directory.RoleGymOwner}
	trainer := &directory.User{ID: "trainer-1", Name: "Tess", Role: directory.RoleTrainer, GymID: "owner-1", MembershipStatus: "Active"}
	dir := &stubDirectory{users: map[string]*directory.User{"trainer-1": trainer}}
	verifier := &stubVerifier{decision: grantedDecision(owner, trainer)}
	sync := &stubSyncer{setDoorResult: mirror.Result{PrimaryOK: true}}
	controller := newTestController(t, dir, verifier, sync, nil)

	result, err := controller.StaffEntry(context.Background(), "trainer-1")
	if err != nil {
		t.Fatalf("StaffEntry: %v", err)
	}
	if !result.Open {
		t.Fatal("staff entry must open the door")
	}
	if verifier.lastReq.Kind != access.KindStaffEntry {
		t.Fatalf("expected staff-entry verification, got %q", verifier.lastReq.Kind)
	}
	if verifier.lastReq.TenantID != "owner-1" {
		t.Fatalf("trainer entry must target the assigned gym, got %q", verifier.lastReq.TenantID)
	}
	if sync.staffFields == nil {
		t.Fatal("expected staff presence mirror")
	}
	if len(sync.scanReasons) != 1 {
		t.Fatalf("expected one scan-log entry, got %v", sync.scanReasons)
	}
}

func TestStaffEntryDenialLogsFailedScan(t *testing.T) {
	owner := &directory.User{ID: "owner-1", Role: directory.RoleGymOwner}
	trainer := &directory.User{ID: "trainer-1", Role: directory.RoleTrainer, GymID: "owner-1", MembershipStatus: "Expired"}
	dir := &stubDirectory{users: map[string]*directory.User{"trainer-1": trainer}}
	verifier := &stubVerifier{decision: access.Decision{
		Verdict: access.Verdict{Outcome: access.OutcomeDeny, Reason: access.ReasonInactive, Message: "Account is not active"},
		Tenant:  owner,
		Keys:    access.TenantKeysFor(owner),
	}}
	sync := &stubSyncer{}
	controller := newTestController(t, dir, verifier, sync, nil)

	_, err := controller.StaffEntry(context.Background(), "trainer-1")
	var denial *DenialError
	if !errors.As(err, &denial) {
		t.Fatalf("expected DenialError, got %v", err)
	}
	if len(sync.setCalls) != 0 {
		t.Fatal("denied entry must not touch the door state")
	}
	if len(sync.scanReasons) != 1 {
		t.Fatalf("expected failed scan to be logged, got %v", sync.scanReasons)
	}
}

func TestOpenForEntryWritesDoorState(t *testing.T) {
	owner := &directory.User{ID: "owner-1", Role: directory.RoleGymOwner}
	dir := &stubDirectory{users: map[string]*directory.User{"owner-1": owner}}
	sync := &stubSyncer{setDoorResult: mirror.Result{PrimaryOK: true}}
	controller := newTestController(t, dir, &stubVerifier{}, sync, nil)

	result := controller.OpenForEntry(context.Background(), mirror.SingleKey("owner-1"), "member-1", "Mia", "qr-scan")
	if !result.Succeeded() {
		t.Fatalf("OpenForEntry: %v", result.Err)
	}
	if len(sync.setCalls) != 1 || !sync.setCalls[0] {
		t.Fatalf("expected one door-open write, got %v", sync.setCalls)
	}
}
