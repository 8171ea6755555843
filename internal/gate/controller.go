package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ironpulse/gymgate/internal/access"
	"github.com/ironpulse/gymgate/internal/directory"
	"github.com/ironpulse/gymgate/internal/mirror"
)

var (
	errMissingEngine = errors.New("verification engine is required")
	errMissingSync   = errors.New("synchronizer is required")

	noOpLogger = zap.NewNop()
)

// DenialError carries a deny verdict across the controller boundary so the
// HTTP layer can map it to the matching status code.
type DenialError struct {
	Verdict access.Verdict
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("gate: %s: %s", e.Verdict.Reason, e.Verdict.Message)
}

// Syncer is the subset of the dual-store synchronizer the controller uses.
type Syncer interface {
	SetDoorStatus(ctx context.Context, keys mirror.Keys, open bool, actorID, actorName, reason string) mirror.Result
	DoorStatus(ctx context.Context, keys mirror.Keys) (bool, time.Time, error)
	MirrorStaff(ctx context.Context, keys mirror.Keys, staffID string, fields mirror.Fields) mirror.Result
	LogScan(ctx context.Context, keys mirror.Keys, principalID, status, reason string) mirror.Result
}

// Notifier pushes gate instructions to the tenant's listening controller.
type Notifier interface {
	Push(tenantID, event string, data map[string]any) bool
}

// Verifier computes the role/association checks for manual gate commands.
type Verifier interface {
	Verify(ctx context.Context, req access.Request) access.Decision
}

// Directory resolves the acting principal.
type Directory interface {
	FindUser(ctx context.Context, userID string) (*directory.User, error)
}

// ControllerConfig configures the gate state controller.
type ControllerConfig struct {
	Engine    Verifier
	Directory Directory
	Sync      Syncer
	Hub       Notifier
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Controller owns the canonical per-tenant door state. It is the only
// component that writes DoorState, whether the transition comes from a
// manual command or from a granted entry.
type Controller struct {
	engine    Verifier
	directory Directory
	sync      Syncer
	hub       Notifier
	clock     func() time.Time
	logger    *zap.Logger
}

// NewController constructs a Controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	if cfg.Sync == nil {
		return nil, errMissingSync
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Controller{
		engine:    cfg.Engine,
		directory: cfg.Directory,
		sync:      cfg.Sync,
		hub:       cfg.Hub,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Result describes a completed gate transition.
type Result struct {
	Open         bool
	Action       string
	Timestamp    time.Time
	ControlledBy directory.Role
	Actor        *directory.User
	Tenant       *directory.User
	Sync         mirror.Result
	Delivered    bool
}

// Toggle transitions the door to the desired state for the actor's tenant.
func (c *Controller) Toggle(ctx context.Context, actorID string, open bool) (Result, error) {
	decision, err := c.authorize(ctx, actorID, access.KindGateControl)
	if err != nil {
		return Result{}, err
	}
	return c.transition(ctx, decision, open, "manual-toggle"), nil
}

// StaffEntry handles a staff member entering through the gate: the full
// rule chain applies, the entry is scan-logged either way, and a grant
// opens the door.
func (c *Controller) StaffEntry(ctx context.Context, actorID string) (Result, error) {
	decision, err := c.authorize(ctx, actorID, access.KindStaffEntry)
	if err != nil {
		var denial *DenialError
		if errors.As(err, &denial) && decision.Tenant != nil {
			logResult := c.sync.LogScan(ctx, decision.Keys, actorID, mirror.ScanStatusFailed, denial.Verdict.Message)
			if !logResult.Succeeded() {
				c.logger.Warn("staff-entry scan-log write failed",
					zap.String("actor_id", actorID),
					zap.Error(logResult.Err))
			}
		}
		return Result{}, err
	}
	result := c.transition(ctx, decision, true, "staff-entry")
	logResult := c.sync.LogScan(ctx, decision.Keys, decision.Principal.ID, mirror.ScanStatusSuccess,
		fmt.Sprintf("Staff entry: %s (%s)", decision.Principal.Name, decision.Principal.Role))
	if !logResult.Succeeded() {
		c.logger.Warn("staff-entry scan-log write failed",
			zap.String("actor_id", actorID),
			zap.Error(logResult.Err))
	}
	return result, nil
}

// Status reads the mirrored door state for the actor's tenant. A read
// failure reports closed rather than erroring the caller.
func (c *Controller) Status(ctx context.Context, actorID string) (Result, error) {
	decision, err := c.authorize(ctx, actorID, access.KindGateControl)
	if err != nil {
		return Result{}, err
	}
	open, updated, readErr := c.sync.DoorStatus(ctx, decision.Keys)
	if readErr != nil {
		c.logger.Warn("door status read failed, reporting closed",
			zap.String("actor_id", actorID),
			zap.Error(readErr))
		open = false
	}
	action := "closed"
	if open {
		action = "opened"
	}
	return Result{
		Open:         open,
		Action:       action,
		Timestamp:    updated,
		ControlledBy: decision.Principal.Role,
		Actor:        decision.Principal,
		Tenant:       decision.Tenant,
	}, nil
}

// Emergency forces the door open regardless of its current state. Only the
// role and tenant checks apply; the supplied reason is recorded.
func (c *Controller) Emergency(ctx context.Context, actorID, reason string) (Result, error) {
	decision, err := c.authorize(ctx, actorID, access.KindGateControl)
	if err != nil {
		return Result{}, err
	}
	if reason == "" {
		reason = "No reason provided"
	}
	result := c.transition(ctx, decision, true, "emergency: "+reason)
	logResult := c.sync.LogScan(ctx, decision.Keys, decision.Principal.ID, mirror.ScanStatusSuccess,
		fmt.Sprintf("Emergency gate access by %s: %s. Reason: %s", decision.Principal.Role, decision.Principal.Name, reason))
	if !logResult.Succeeded() {
		c.logger.Warn("emergency scan-log write failed",
			zap.String("actor_id", actorID),
			zap.Error(logResult.Err))
	}
	return result, nil
}

// OpenForEntry mirrors the door opening that follows a granted entry. It is
// the check-in flow's write path into the canonical door state.
func (c *Controller) OpenForEntry(ctx context.Context, keys mirror.Keys, actorID, actorName, reason string) mirror.Result {
	return c.sync.SetDoorStatus(ctx, keys, true, actorID, actorName, reason)
}

// authorize resolves the actor's tenant and runs the rule chain for the
// event kind, converting a deny verdict into a DenialError. A partially
// populated Decision may accompany the error once the tenant resolved.
func (c *Controller) authorize(ctx context.Context, actorID string, kind access.EventKind) (access.Decision, error) {
	actor, err := c.directory.FindUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) || errors.Is(err, directory.ErrInvalidUserID) {
			return access.Decision{}, &DenialError{Verdict: access.Verdict{
				Outcome: access.OutcomeDeny,
				Reason:  access.ReasonInvalidPrincipal,
				Message: "User not found",
			}}
		}
		return access.Decision{}, err
	}
	if !actor.IsStaff() {
		return access.Decision{}, &DenialError{Verdict: access.Verdict{
			Outcome: access.OutcomeDeny,
			Reason:  access.ReasonInvalidPrincipal,
			Message: "Only gym owners and trainers can control the gate",
		}}
	}

	tenantID := actor.ID
	if actor.Role == directory.RoleTrainer {
		if actor.GymID == "" {
			return access.Decision{}, &DenialError{Verdict: access.Verdict{
				Outcome: access.OutcomeDeny,
				Reason:  access.ReasonInvalidPrincipal,
				Message: "Trainer is not assigned to any gym",
			}}
		}
		tenantID = actor.GymID
	}

	decision := c.engine.Verify(ctx, access.Request{
		TenantID:    tenantID,
		PrincipalID: actorID,
		Kind:        kind,
	})
	if !decision.Verdict.Granted() {
		return decision, &DenialError{Verdict: decision.Verdict}
	}
	return decision, nil
}

// transition writes the door state, mirrors staff presence when opening,
// and pushes the instruction to the listening device.
func (c *Controller) transition(ctx context.Context, decision access.Decision, open bool, reason string) Result {
	actor := decision.Principal
	now := c.clock().UTC()
	action := "closed"
	if open {
		action = "opened"
	}

	syncResult := c.sync.SetDoorStatus(ctx, decision.Keys, open, actor.ID, actor.Name, reason)
	if !syncResult.Succeeded() {
		c.logger.Warn("door status mirror failed",
			zap.String("actor_id", actor.ID),
			zap.Bool("open", open),
			zap.Error(syncResult.Err))
	}

	if open {
		staffResult := c.sync.MirrorStaff(ctx, decision.Keys, actor.ID,
			access.MirrorStaffEntryFields(actor, decision.Tenant.DisplayGymName(), now))
		if !staffResult.Succeeded() {
			c.logger.Warn("staff presence mirror failed",
				zap.String("actor_id", actor.ID),
				zap.Error(staffResult.Err))
		}
	}

	delivered := false
	if c.hub != nil {
		instruction := "deny"
		if open {
			instruction = "allow"
		}
		delivered = c.hub.Push(decision.Tenant.ID, access.EventAccessResponse, map[string]any{
			"timestamp":       now.Format(time.RFC3339),
			"gymOwnerId":      decision.Tenant.ID,
			"status":          action,
			"nodeMcuResponse": instruction,
			"message":         fmt.Sprintf("Gate %s by %s", action, actor.Role),
			"data": map[string]any{
				"controlledBy": string(actor.Role),
				"duration":     5000,
			},
		})
	}

	return Result{
		Open:         open,
		Action:       action,
		Timestamp:    now,
		ControlledBy: actor.Role,
		Actor:        actor,
		Tenant:       decision.Tenant,
		Sync:         syncResult,
		Delivered:    delivered,
	}
}
