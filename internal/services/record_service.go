// Package services – RecordService
//
// This file exposes read access to persisted flush records. It is only wired
// when a records database is configured.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-edge-state/internal/domain"
	"github.com/tbourn/go-edge-state/internal/repo"
)

// RecordRepo defines the repository contract required by RecordService.
type RecordRepo interface {
	// CountFlushRecords returns the total number of records of an interaction.
	CountFlushRecords(ctx context.Context, db *gorm.DB, interactionID string) (int64, error)

	// ListFlushRecordsPage returns a window of one interaction's records, oldest first.
	ListFlushRecordsPage(ctx context.Context, db *gorm.DB, interactionID string, offset, limit int) ([]domain.FlushRecord, error)

	// GetFlushRecord fetches a record by id or returns repo.ErrNotFound.
	GetFlushRecord(ctx context.Context, db *gorm.DB, id string) (*domain.FlushRecord, error)
}

// RecordService reads flush records.
type RecordService struct {
	// DB is the GORM handle; nil means record storage is disabled.
	DB   *gorm.DB
	Repo RecordRepo
}

// NewRecordService constructs a RecordService.
func NewRecordService(db *gorm.DB, r RecordRepo) *RecordService {
	return &RecordService{DB: db, Repo: r}
}

// Page size bounds for List.
const (
	DefaultRecordPageSize = 20
	MaxRecordPageSize     = 100
)

// List returns one page of the records of interactionID, oldest first, along
// with the total count. Invalid page values fall back to the first page and
// pageSize is clamped to [1, MaxRecordPageSize].
func (s *RecordService) List(ctx context.Context, interactionID string, page, pageSize int) ([]domain.FlushRecord, int64, error) {
	if s.DB == nil {
		return nil, 0, ErrRecordsDisabled
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultRecordPageSize
	}
	if pageSize > MaxRecordPageSize {
		pageSize = MaxRecordPageSize
	}

	total, err := s.Repo.CountFlushRecords(ctx, s.DB, interactionID)
	if err != nil {
		return nil, 0, unavailable(err)
	}
	recs, err := s.Repo.ListFlushRecordsPage(ctx, s.DB, interactionID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, unavailable(err)
	}
	if recs == nil {
		recs = []domain.FlushRecord{}
	}
	return recs, total, nil
}

// Get returns one record by id.
func (s *RecordService) Get(ctx context.Context, id string) (*domain.FlushRecord, error) {
	if s.DB == nil {
		return nil, ErrRecordsDisabled
	}
	rec, err := s.Repo.GetFlushRecord(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return rec, nil
}
