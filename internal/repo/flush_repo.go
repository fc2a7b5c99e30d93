// Package repo implements the durable side of the flush pipeline, backed by
// GORM. This file provides the append-only flush record repository.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-edge-state/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate indicates that a record with the same ID already exists.
var ErrDuplicate = errors.New("duplicate")

// CreateFlushRecord inserts rec. Records are never updated.
func CreateFlushRecord(ctx context.Context, db *gorm.DB, rec *domain.FlushRecord) error {
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ListFlushRecords returns the records of one interaction, oldest first.
func ListFlushRecords(ctx context.Context, db *gorm.DB, interactionID string) ([]domain.FlushRecord, error) {
	var out []domain.FlushRecord
	err := db.WithContext(ctx).
		Where("interaction_id = ?", interactionID).
		Order("flushed_at ASC").
		Find(&out).Error
	return out, err
}

// CountFlushRecords returns how many records interactionID has.
func CountFlushRecords(ctx context.Context, db *gorm.DB, interactionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.FlushRecord{}).
		Where("interaction_id = ?", interactionID).
		Count(&total).Error
	return total, err
}

// ListFlushRecordsPage returns a window of an interaction's records, oldest
// first. The caller computes offset and limit (e.g. (page-1)*pageSize).
func ListFlushRecordsPage(ctx context.Context, db *gorm.DB, interactionID string, offset, limit int) ([]domain.FlushRecord, error) {
	var out []domain.FlushRecord
	err := db.WithContext(ctx).
		Where("interaction_id = ?", interactionID).
		Order("flushed_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetFlushRecord returns one record by id or ErrNotFound.
func GetFlushRecord(ctx context.Context, db *gorm.DB, id string) (*domain.FlushRecord, error) {
	var rec domain.FlushRecord
	err := db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
