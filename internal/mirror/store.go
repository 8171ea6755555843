package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRecordNotFound indicates the path has never been written to the store.
	ErrRecordNotFound = errors.New("mirror: record not found")
	// ErrInvalidPath indicates an empty or malformed mirror path.
	ErrInvalidPath = errors.New("mirror: invalid path")
)

// Fields is the tenant-scoped projection written under a mirror path.
// Writes are merge-only: keys absent from an update survive untouched.
type Fields map[string]any

// Store is a single external key-value hierarchy. Upsert creates the record
// with defaults when absent (stamping createdAt) and otherwise applies a
// partial update (stamping updatedAt); it never destructively replaces.
type Store interface {
	Upsert(ctx context.Context, path string, fields Fields) error
	Get(ctx context.Context, path string) (Fields, error)
}

const (
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// TenantPath addresses the tenant root (door status, last-actor metadata).
func TenantPath(tenantKey string) string {
	return "tenant/" + tenantKey
}

// MemberPath addresses a member sub-record.
func MemberPath(tenantKey, memberID string) string {
	return fmt.Sprintf("tenant/%s/members/%s", tenantKey, memberID)
}

// StaffPath addresses a staff sub-record.
func StaffPath(tenantKey, staffID string) string {
	return fmt.Sprintf("tenant/%s/staff/%s", tenantKey, staffID)
}

// ScanLogPath addresses one scan-log entry.
func ScanLogPath(tenantKey, entryID string) string {
	return fmt.Sprintf("tenant/%s/scan_logs/%s", tenantKey, entryID)
}

// Keys carries the two tenant addressing keys in effect for a write: the
// primary key and the historical alternate retried once after a failure.
type Keys struct {
	Primary  string
	Fallback string
}

// SingleKey builds Keys with no distinct fallback.
func SingleKey(tenantKey string) Keys {
	return Keys{Primary: tenantKey, Fallback: tenantKey}
}

// Candidates lists the addressing keys in retry order, deduplicated.
func (k Keys) Candidates() []string {
	primary := strings.TrimSpace(k.Primary)
	fallback := strings.TrimSpace(k.Fallback)
	if primary == "" {
		primary = fallback
	}
	if primary == "" {
		return nil
	}
	if fallback == "" || fallback == primary {
		return []string{primary}
	}
	return []string{primary, fallback}
}

func clone(fields Fields) Fields {
	copied := make(Fields, len(fields)+2)
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}
