package access

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ironpulse/gymgate/internal/directory"
	"github.com/ironpulse/gymgate/internal/mirror"
)

var errMissingEngine = errors.New("verification engine is required")

// Event names pushed over the device channel.
const (
	EventQRScanResponse = "qr-scan-response"
	EventAccessResponse = "access-response"
)

// Auto-close hint sent with a grant; enforcement is the device's job.
const grantDurationMillis = 5000

// Syncer is the subset of the dual-store synchronizer the check-in flow uses.
type Syncer interface {
	MirrorMember(ctx context.Context, keys mirror.Keys, memberID string, fields mirror.Fields) mirror.Result
	LogScan(ctx context.Context, keys mirror.Keys, principalID, status, reason string) mirror.Result
}

// DoorOpener mirrors the canonical door state; owned by the gate controller.
type DoorOpener interface {
	OpenForEntry(ctx context.Context, keys mirror.Keys, actorID, actorName, reason string) mirror.Result
}

// Notifier pushes envelopes to the tenant's listening controller. A false
// return means no device is listening, which is never an error.
type Notifier interface {
	Push(tenantID, event string, data map[string]any) bool
	DeviceFor(tenantID string) (string, bool)
}

// ServiceConfig configures the check-in orchestration service.
type ServiceConfig struct {
	Engine *Engine
	Sync   Syncer
	Gate   DoorOpener
	Hub    Notifier
	Events *EventLog
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service runs the full check-in flow: verify, record, mirror, notify. The
// verdict is computed first and stands regardless of mirror or device
// availability.
type Service struct {
	engine *Engine
	sync   Syncer
	gate   DoorOpener
	hub    Notifier
	events *EventLog
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the check-in Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	events := cfg.Events
	if events == nil {
		events = NewEventLog(0)
	}
	return &Service{
		engine: cfg.Engine,
		sync:   cfg.Sync,
		gate:   cfg.Gate,
		hub:    cfg.Hub,
		events: events,
		clock:  clock,
		logger: logger,
	}, nil
}

// CheckInRequest describes one member scan.
type CheckInRequest struct {
	TenantID string
	MemberID string
	DeviceID string
}

// CheckInResult is the flow outcome surfaced to the HTTP layer.
type CheckInResult struct {
	Decision  Decision
	Sync      mirror.Result
	Delivered bool
}

// CheckIn verifies a member scan and applies its side effects.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) CheckInResult {
	decision := s.engine.Verify(ctx, Request{
		TenantID:    req.TenantID,
		PrincipalID: req.MemberID,
		Kind:        KindMemberScan,
	})
	return s.settle(ctx, decision, req)
}

// ValidateFromDevice verifies a device-originated scan, additionally
// requiring the calling device to be the tenant's registered controller.
func (s *Service) ValidateFromDevice(ctx context.Context, req CheckInRequest) CheckInResult {
	if s.hub != nil {
		boundDevice, listening := s.hub.DeviceFor(req.TenantID)
		if !listening || boundDevice != req.DeviceID {
			decision := Decision{
				Keys:    mirror.SingleKey(req.TenantID),
				Verdict: deny(ReasonDeviceNotAuthorized, "Device not authorized for this gym"),
			}
			return s.settle(ctx, decision, req)
		}
	}
	return s.CheckIn(ctx, req)
}

// settle records, mirrors and notifies for a computed decision.
func (s *Service) settle(ctx context.Context, decision Decision, req CheckInRequest) CheckInResult {
	result := CheckInResult{Decision: decision}
	verdict := decision.Verdict
	now := s.clock().UTC()

	s.events.Append(AccessEvent{
		PrincipalID: req.MemberID,
		TenantID:    req.TenantID,
		Timestamp:   now,
		Outcome:     verdict.Outcome,
		Reason:      verdict.Reason,
		Message:     verdict.Message,
		DeviceID:    req.DeviceID,
	})

	// Nothing to mirror when the tenant itself did not resolve.
	tenantKnown := decision.Tenant != nil

	if s.sync != nil && tenantKnown {
		scanStatus := mirror.ScanStatusFailed
		if verdict.Granted() {
			scanStatus = mirror.ScanStatusSuccess
		}
		result.Sync = s.sync.LogScan(ctx, decision.Keys, req.MemberID, scanStatus, verdict.Message)

		if verdict.Granted() && decision.Principal != nil {
			member := decision.Principal
			memberResult := s.sync.MirrorMember(ctx, decision.Keys, member.ID, mirror.Fields{
				"memberId":          member.ID,
				"memberName":        member.Name,
				"memberEmail":       member.Email,
				"membershipStatus":  member.MembershipStatus,
				"gymName":           decision.Tenant.DisplayGymName(),
				"gymOwner":          decision.Tenant.Name,
				"lastQRScan":        now.Unix(),
				"lastAccessGranted": now.Unix(),
				"isActive":          true,
			})
			if !memberResult.Succeeded() {
				s.logger.Warn("member mirror write failed",
					zap.String("member_id", member.ID),
					zap.Error(memberResult.Err))
			}
		}
	}

	if verdict.Granted() && s.gate != nil && decision.Principal != nil {
		openResult := s.gate.OpenForEntry(ctx, decision.Keys, decision.Principal.ID, decision.Principal.Name, "qr-scan")
		if !openResult.Succeeded() {
			s.logger.Warn("door-state mirror failed after grant",
				zap.String("member_id", req.MemberID),
				zap.Error(openResult.Err))
		}
	}

	if s.hub != nil {
		result.Delivered = s.hub.Push(req.TenantID, EventQRScanResponse, s.pushPayload(decision, req, now))
	}
	return result
}

func (s *Service) pushPayload(decision Decision, req CheckInRequest, now time.Time) map[string]any {
	verdict := decision.Verdict
	payload := map[string]any{
		"timestamp":       now.Format(time.RFC3339),
		"gymOwnerId":      req.TenantID,
		"status":          statusLabel(verdict),
		"nodeMcuResponse": verdict.NodeMCUAction(),
		"message":         verdict.Message,
	}
	data := map[string]any{}
	if decision.Principal != nil {
		data["member"] = map[string]any{
			"name":             decision.Principal.Name,
			"membershipStatus": decision.Principal.MembershipStatus,
		}
	}
	if decision.Tenant != nil {
		data["gym"] = map[string]any{
			"id":    decision.Tenant.ID,
			"name":  decision.Tenant.DisplayGymName(),
			"owner": decision.Tenant.Name,
		}
	}
	if verdict.Granted() {
		data["duration"] = grantDurationMillis
	}
	payload["data"] = data
	return payload
}

func statusLabel(verdict Verdict) string {
	if verdict.Granted() {
		return "success"
	}
	return "error"
}

// Events exposes the bounded access-event log.
func (s *Service) Events() *EventLog {
	return s.events
}

// MirrorStaffEntryFields builds the staff presence projection written on
// staff entry and on gate opening; the door-state transition itself goes
// through the gate controller.
func MirrorStaffEntryFields(staff *directory.User, gymName string, now time.Time) mirror.Fields {
	return mirror.Fields{
		"staffId":           staff.ID,
		"staffName":         staff.Name,
		"staffEmail":        staff.Email,
		"staffRole":         string(staff.Role),
		"entryStatus":       "Active",
		"gymName":           gymName,
		"lastEntry":         now.Unix(),
		"lastAccessGranted": now.Unix(),
		"isActive":          true,
		"status":            true,
	}
}
