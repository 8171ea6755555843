package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errMissingPrimaryStore = errors.New("primary store is required")
	errMissingScanStore    = errors.New("scan-log store is required")

	noOpLogger = zap.NewNop()
)

const defaultStoreTimeout = 5 * time.Second

// IDProvider issues identifiers for appended scan-log entries.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// SynchronizerConfig configures the dual-store synchronizer.
type SynchronizerConfig struct {
	Primary    Store
	Secondary  Store
	Scans      *ScanLogStore
	IDProvider IDProvider
	Clock      func() time.Time
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Synchronizer mirrors tenant-scoped state into Store A and, best effort,
// Store B. Mirrors are advisory telemetry: a failed write is logged and
// surfaced in the Result, never escalated to the caller's access decision.
type Synchronizer struct {
	primary    Store
	secondary  Store
	scans      *ScanLogStore
	idProvider IDProvider
	clock      func() time.Time
	timeout    time.Duration
	logger     *zap.Logger
}

// Result reports the two-phase write outcome per store.
type Result struct {
	PrimaryOK   bool
	SecondaryOK bool
	Path        string
	Err         error
}

// Succeeded reports whether the authoritative (primary) write landed.
func (r Result) Succeeded() bool {
	return r.PrimaryOK
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Primary == nil {
		return nil, errMissingPrimaryStore
	}
	if cfg.Scans == nil {
		return nil, errMissingScanStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Synchronizer{
		primary:    cfg.Primary,
		secondary:  cfg.Secondary,
		scans:      cfg.Scans,
		idProvider: idProvider,
		clock:      clock,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// MirrorMember upserts a member sub-record in both stores.
func (s *Synchronizer) MirrorMember(ctx context.Context, keys Keys, memberID string, fields Fields) Result {
	return s.writeBoth(ctx, keys, fields, func(tenantKey string) string {
		return MemberPath(tenantKey, memberID)
	})
}

// MirrorStaff upserts a staff sub-record in both stores.
func (s *Synchronizer) MirrorStaff(ctx context.Context, keys Keys, staffID string, fields Fields) Result {
	return s.writeBoth(ctx, keys, fields, func(tenantKey string) string {
		return StaffPath(tenantKey, staffID)
	})
}

// SetDoorStatus mirrors the door state onto the tenant root together with the
// last-known actor and reason for observability.
func (s *Synchronizer) SetDoorStatus(ctx context.Context, keys Keys, open bool, actorID, actorName, reason string) Result {
	action := "closed"
	if open {
		action = "opened"
	}
	fields := Fields{
		"status":      open,
		"action":      action,
		"lastActorId": actorID,
		"lastActor":   actorName,
		"lastReason":  reason,
		"lastUpdated": s.clock().UTC().Unix(),
	}
	return s.writeBoth(ctx, keys, fields, TenantPath)
}

// DoorStatus reads the mirrored door state from Store A, trying each
// addressing key in order. The zero value is closed.
func (s *Synchronizer) DoorStatus(ctx context.Context, keys Keys) (bool, time.Time, error) {
	var lastErr error
	for _, tenantKey := range keys.Candidates() {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		fields, err := s.primary.Get(opCtx, TenantPath(tenantKey))
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		open, _ := fields["status"].(bool)
		var updated time.Time
		if seconds, ok := asInt64(fields["lastUpdated"]); ok {
			updated = time.Unix(seconds, 0).UTC()
		}
		return open, updated, nil
	}
	return false, time.Time{}, lastErr
}

// LogScan appends a scan-log entry to Store A and mirrors it, plus the
// tenant root's latest-scan metadata, into Store B.
func (s *Synchronizer) LogScan(ctx context.Context, keys Keys, principalID, status, reason string) Result {
	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Error("scan-log id generation failed", zap.Error(err))
		return Result{Err: err}
	}
	scannedAt := s.clock().UTC()

	result := Result{}
	for _, tenantKey := range keys.Candidates() {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = s.scans.Append(opCtx, ScanLog{
			ID:               entryID,
			TenantKey:        tenantKey,
			PrincipalID:      principalID,
			Status:           status,
			Reason:           reason,
			ScannedAtSeconds: scannedAt.Unix(),
		})
		cancel()
		if err == nil {
			result.PrimaryOK = true
			result.Path = ScanLogPath(tenantKey, entryID)
			break
		}
		s.logger.Warn("scan-log append failed",
			zap.String("tenant_key", tenantKey),
			zap.String("principal_id", principalID),
			zap.Error(err))
		result.Err = err
	}

	if s.secondary != nil {
		entryFields := Fields{
			"memberId":  principalID,
			"status":    status,
			"reason":    reason,
			"timestamp": scannedAt.Unix(),
		}
		rootFields := Fields{
			"lastScanMemberId":  principalID,
			"lastScanStatus":    status,
			"lastScanReason":    reason,
			"lastScanTimestamp": scannedAt.Unix(),
		}
		result.SecondaryOK = s.writeSecondary(ctx, keys, entryFields, func(tenantKey string) string {
			return ScanLogPath(tenantKey, entryID)
		})
		if result.SecondaryOK {
			result.SecondaryOK = s.writeSecondary(ctx, keys, rootFields, TenantPath)
		}
	}
	return result
}

// LastSuccessfulScan returns the timestamp of the most recent successful scan
// for the principal within [start, end), checking each addressing key.
func (s *Synchronizer) LastSuccessfulScan(ctx context.Context, keys Keys, principalID string, start, end time.Time) (*time.Time, error) {
	var lastErr error
	for _, tenantKey := range keys.Candidates() {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		entry, err := s.scans.LastSuccess(opCtx, tenantKey, principalID, start, end)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if entry != nil {
			scannedAt := time.Unix(entry.ScannedAtSeconds, 0).UTC()
			return &scannedAt, nil
		}
	}
	return nil, lastErr
}

// writeBoth performs the two-phase write: Store A first under the primary
// key, once more under the fallback key after a failure, then the same for
// Store B. Store B failure never affects the Store A outcome.
func (s *Synchronizer) writeBoth(ctx context.Context, keys Keys, fields Fields, pathFor func(string) string) Result {
	result := Result{}
	for _, tenantKey := range keys.Candidates() {
		path := pathFor(tenantKey)
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.primary.Upsert(opCtx, path, fields)
		cancel()
		if err == nil {
			result.PrimaryOK = true
			result.Path = path
			break
		}
		s.logger.Warn("primary mirror write failed",
			zap.String("path", path),
			zap.Error(err))
		result.Err = err
	}

	if s.secondary != nil {
		result.SecondaryOK = s.writeSecondary(ctx, keys, fields, pathFor)
	}
	return result
}

func (s *Synchronizer) writeSecondary(ctx context.Context, keys Keys, fields Fields, pathFor func(string) string) bool {
	for _, tenantKey := range keys.Candidates() {
		path := pathFor(tenantKey)
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.secondary.Upsert(opCtx, path, fields)
		cancel()
		if err == nil {
			return true
		}
		s.logger.Warn("secondary mirror write failed",
			zap.String("path", path),
			zap.Error(err))
	}
	return false
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case float64:
		return int64(typed), true
	default:
		return 0, false
	}
}
