package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ironpulse/gymgate/internal/directory"
	"github.com/ironpulse/gymgate/internal/mirror"
)

var (
	errMissingDirectory = errors.New("directory is required")

	noOpLogger = zap.NewNop()
)

// Directory resolves principals from the external user directory.
type Directory interface {
	FindUser(ctx context.Context, userID string) (*directory.User, error)
	FindGymOwner(ctx context.Context, tenantID string) (*directory.User, error)
}

// ScanIndex is the daily-limit read against Store A's scan log.
type ScanIndex interface {
	LastSuccessfulScan(ctx context.Context, keys mirror.Keys, principalID string, start, end time.Time) (*time.Time, error)
}

// EngineConfig configures the verification engine.
type EngineConfig struct {
	Directory Directory
	Scans     ScanIndex
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Engine computes allow/deny verdicts for physical-entry events. It is a
// pure function over directory reads and the daily-scan index; all mutation
// belongs to the synchronizer and the gate controller.
type Engine struct {
	directory Directory
	scans     ScanIndex
	clock     func() time.Time
	logger    *zap.Logger
}

// Request identifies one entry attempt.
type Request struct {
	TenantID    string
	PrincipalID string
	Kind        EventKind
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		directory: cfg.Directory,
		scans:     cfg.Scans,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Verify evaluates the fixed rule chain for the request, short-circuiting on
// the first failure. Directory faults deny (fail-closed); a scan-index fault
// on the daily-limit rule allows (fail-open).
func (e *Engine) Verify(ctx context.Context, req Request) Decision {
	decision := Decision{Keys: mirror.SingleKey(req.TenantID)}

	// Rule 1: tenant resolves to a gym owner.
	tenant, err := e.directory.FindGymOwner(ctx, req.TenantID)
	if isMissing(err) {
		decision.Verdict = deny(ReasonInvalidTenant, "Invalid gym owner or gym not found")
		return decision
	}
	if err != nil {
		return e.systemError(decision, "tenant lookup failed", err)
	}
	decision.Tenant = tenant
	decision.Keys = TenantKeysFor(tenant)

	// Rule 2: principal resolves with the role the event kind expects.
	principal, err := e.directory.FindUser(ctx, req.PrincipalID)
	if isMissing(err) {
		decision.Verdict = deny(ReasonInvalidPrincipal, invalidPrincipalMessage(req.Kind))
		return decision
	}
	if err != nil {
		return e.systemError(decision, "principal lookup failed", err)
	}
	decision.Principal = principal
	if !roleMatchesKind(principal, req.Kind) {
		decision.Verdict = deny(ReasonInvalidPrincipal, invalidPrincipalMessage(req.Kind))
		return decision
	}

	selfAccess := principal.ID == tenant.ID

	// Rule 3: tenant association, bypassed for the owner's own tenant.
	if !selfAccess {
		if principal.Role == directory.RoleTrainer && principal.GymID == "" {
			decision.Verdict = deny(ReasonInvalidPrincipal, "Trainer is not assigned to any gym")
			return decision
		}
		if principal.GymID != tenant.ID {
			decision.Verdict = deny(ReasonNotAMember, "You are not a member of this gym")
			return decision
		}
	}

	// Rule 4: membership/account status, same bypass. Manual gate commands
	// stop at the association check.
	if req.Kind != KindGateControl && !selfAccess {
		if principal.MembershipStatus != directory.MembershipStatusActive {
			decision.Verdict = deny(ReasonInactive, "Your subscription is inactive. Please renew your membership.")
			return decision
		}
	}

	// Rule 5: one successful scan per calendar day, member scans only.
	// Fail-open: an unreachable scan index must not lock members out.
	if req.Kind == KindMemberScan && e.scans != nil {
		dayStart, dayEnd := e.dayBounds()
		lastScan, err := e.scans.LastSuccessfulScan(ctx, decision.Keys, principal.ID, dayStart, dayEnd)
		if err != nil {
			e.logger.Warn("daily-limit check unavailable, allowing scan",
				zap.String("tenant_id", tenant.ID),
				zap.String("principal_id", principal.ID),
				zap.Error(err))
		} else if lastScan != nil {
			verdict := deny(ReasonDailyLimit,
				fmt.Sprintf("Already checked in today at %s", lastScan.Format(time.Kitchen)))
			verdict.LastScan = lastScan
			decision.Verdict = verdict
			return decision
		}
	}

	decision.Verdict = Verdict{
		Outcome: OutcomeGrant,
		Reason:  ReasonOK,
		Message: fmt.Sprintf("Welcome to %s!", tenant.DisplayGymName()),
	}
	return decision
}

func (e *Engine) dayBounds() (time.Time, time.Time) {
	now := e.clock()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.Add(24 * time.Hour)
}

func (e *Engine) systemError(decision Decision, reason string, err error) Decision {
	e.logger.Error("verification lookup failed", zap.String("reason", reason), zap.Error(err))
	decision.Verdict = deny(ReasonSystemError, "System error occurred")
	return decision
}

func deny(reason, message string) Verdict {
	return Verdict{Outcome: OutcomeDeny, Reason: reason, Message: message}
}

func isMissing(err error) bool {
	return errors.Is(err, directory.ErrUserNotFound) || errors.Is(err, directory.ErrInvalidUserID)
}

func roleMatchesKind(principal *directory.User, kind EventKind) bool {
	switch kind {
	case KindMemberScan:
		return principal.Role == directory.RoleMember
	case KindStaffEntry, KindGateControl:
		return principal.IsStaff()
	default:
		return false
	}
}

func invalidPrincipalMessage(kind EventKind) string {
	if kind == KindMemberScan {
		return "Invalid member"
	}
	return "Only gym owners and trainers can perform this action"
}
