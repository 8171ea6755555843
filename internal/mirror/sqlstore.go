package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// MirrorRecord persists one mirror path as a JSON document in Store A.
type MirrorRecord struct {
	Path             string `gorm:"column:path;primaryKey;size:512;not null"`
	FieldsJSON       string `gorm:"column:fields_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MirrorRecord) TableName() string {
	return "mirror_records"
}

// SQLStore is the relational mirror hierarchy (Store A).
type SQLStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLStore constructs the Store A implementation.
func NewSQLStore(db *gorm.DB, clock func() time.Time) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("mirror: database handle is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SQLStore{db: db, clock: clock}, nil
}

// Upsert merges fields into the record at path, creating it when absent.
func (s *SQLStore) Upsert(ctx context.Context, path string, fields Fields) error {
	if strings.TrimSpace(path) == "" {
		return ErrInvalidPath
	}

	now := s.clock().UTC().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record MirrorRecord
		err := tx.Where("path = ?", path).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			merged := clone(fields)
			merged[fieldCreatedAt] = now
			merged[fieldUpdatedAt] = now
			encoded, marshalErr := json.Marshal(merged)
			if marshalErr != nil {
				return marshalErr
			}
			return tx.Create(&MirrorRecord{
				Path:             path,
				FieldsJSON:       string(encoded),
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
			}).Error
		}
		if err != nil {
			return err
		}

		existing := Fields{}
		if record.FieldsJSON != "" {
			if unmarshalErr := json.Unmarshal([]byte(record.FieldsJSON), &existing); unmarshalErr != nil {
				return unmarshalErr
			}
		}
		for key, value := range fields {
			existing[key] = value
		}
		existing[fieldUpdatedAt] = now
		encoded, marshalErr := json.Marshal(existing)
		if marshalErr != nil {
			return marshalErr
		}
		record.FieldsJSON = string(encoded)
		record.UpdatedAtSeconds = now
		return tx.Save(&record).Error
	})
}

// Get loads the fields stored at path.
func (s *SQLStore) Get(ctx context.Context, path string) (Fields, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrInvalidPath
	}

	var record MirrorRecord
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, path)
	}
	if err != nil {
		return nil, err
	}

	fields := Fields{}
	if record.FieldsJSON != "" {
		if err := json.Unmarshal([]byte(record.FieldsJSON), &fields); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// ScanLog is one immutable scan-log entry under a tenant's scan_logs path,
// kept relational in Store A so the daily-limit read can range over it.
type ScanLog struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	TenantKey        string `gorm:"column:tenant_key;size:190;not null;index:idx_scan_logs_tenant_time,priority:1"`
	PrincipalID      string `gorm:"column:principal_id;size:190;not null;index"`
	Status           string `gorm:"column:status;size:32;not null"`
	Reason           string `gorm:"column:reason;size:512;not null;default:''"`
	ScannedAtSeconds int64  `gorm:"column:scanned_at_s;not null;index:idx_scan_logs_tenant_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ScanLog) TableName() string {
	return "scan_logs"
}

// Scan-log outcome values as written to both stores.
const (
	ScanStatusSuccess = "success"
	ScanStatusFailed  = "failed"
)

// ScanLogStore appends and queries Store A's scan-log sub-path.
type ScanLogStore struct {
	db *gorm.DB
}

// NewScanLogStore constructs the scan-log store over the Store A database.
func NewScanLogStore(db *gorm.DB) (*ScanLogStore, error) {
	if db == nil {
		return nil, errors.New("mirror: database handle is required")
	}
	return &ScanLogStore{db: db}, nil
}

// Append records one scan-log entry.
func (s *ScanLogStore) Append(ctx context.Context, entry ScanLog) error {
	if strings.TrimSpace(entry.ID) == "" || strings.TrimSpace(entry.TenantKey) == "" {
		return ErrInvalidPath
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

// LastSuccess returns the most recent successful entry for the principal in
// the half-open range [start, end), or nil when none exists.
func (s *ScanLogStore) LastSuccess(ctx context.Context, tenantKey, principalID string, start, end time.Time) (*ScanLog, error) {
	var entry ScanLog
	err := s.db.WithContext(ctx).
		Where("tenant_key = ? AND principal_id = ? AND status = ?", tenantKey, principalID, ScanStatusSuccess).
		Where("scanned_at_s >= ? AND scanned_at_s < ?", start.Unix(), end.Unix()).
		Order("scanned_at_s DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
