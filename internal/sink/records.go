package sink

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-edge-state/internal/domain"
	"github.com/tbourn/go-edge-state/internal/repo"
)

// Records persists flush records as rows.
type Records struct {
	DB *gorm.DB
}

// Append inserts rec.
func (r Records) Append(ctx context.Context, rec *domain.FlushRecord) error {
	return repo.CreateFlushRecord(ctx, r.DB, rec)
}
