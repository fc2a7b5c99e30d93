package sink

import (
	"context"
	"errors"

	"github.com/tbourn/go-edge-state/internal/activity"
	"github.com/tbourn/go-edge-state/internal/domain"
)

// Multi appends to every sink and joins their errors. A failing sink does not
// stop the others.
type Multi []activity.Sink

// Append implements activity.Sink.
func (m Multi) Append(ctx context.Context, rec *domain.FlushRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
