package access

import (
	"time"

	"github.com/ironpulse/gymgate/internal/directory"
	"github.com/ironpulse/gymgate/internal/mirror"
)

// Outcome is the terminal result of a verification.
type Outcome string

const (
	// OutcomeGrant allows the physical entry.
	OutcomeGrant Outcome = "granted"
	// OutcomeDeny refuses the physical entry.
	OutcomeDeny Outcome = "denied"
)

// Reason codes carried on every verdict. Verification failures are verdicts,
// not errors; they never propagate past the engine as Go errors.
const (
	ReasonOK                  = "OK"
	ReasonInvalidTenant       = "INVALID_TENANT"
	ReasonInvalidPrincipal    = "INVALID_PRINCIPAL"
	ReasonNotAMember          = "NOT_A_MEMBER"
	ReasonInactive            = "INACTIVE"
	ReasonDailyLimit          = "DAILY_LIMIT"
	ReasonSystemError         = "SYSTEM_ERROR"
	ReasonDeviceNotAuthorized = "DEVICE_NOT_AUTHORIZED"
)

// EventKind distinguishes the inbound event classes the engine verifies.
type EventKind string

const (
	// KindMemberScan is a member QR scan at the door.
	KindMemberScan EventKind = "member-scan"
	// KindStaffEntry is an owner or trainer recording presence.
	KindStaffEntry EventKind = "staff-entry"
	// KindGateControl is a manual gate command by an owner or trainer.
	KindGateControl EventKind = "gate-control"
)

// Verdict is the allow/deny decision plus its reason code.
type Verdict struct {
	Outcome  Outcome
	Reason   string
	Message  string
	LastScan *time.Time
}

// Granted reports whether entry was allowed.
func (v Verdict) Granted() bool {
	return v.Outcome == OutcomeGrant
}

// Decision bundles the verdict with the resolved parties and the mirror
// addressing keys in effect, for callers that persist or respond with them.
type Decision struct {
	Verdict   Verdict
	Tenant    *directory.User
	Principal *directory.User
	Keys      mirror.Keys
}

// NodeMCUStatus renders the minimal firmware contract value.
func (v Verdict) NodeMCUStatus() string {
	if v.Granted() {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// NodeMCUAction renders the realtime push contract value.
func (v Verdict) NodeMCUAction() string {
	if v.Granted() {
		return "allow"
	}
	return "deny"
}

// TenantKeysFor derives the mirror addressing keys for a gym owner: the
// legacy gym identifier when one is set, with the owner id as the documented
// alternate.
func TenantKeysFor(owner *directory.User) mirror.Keys {
	if owner == nil {
		return mirror.Keys{}
	}
	primary := owner.GymID
	if primary == "" {
		primary = owner.ID
	}
	return mirror.Keys{Primary: primary, Fallback: owner.ID}
}
