package doctor

import (
	"context"

	"github.com/google/uuid"
)

// Repository serves the doctor read model.
type Repository interface {
	List(ctx context.Context, limit, offset int) ([]*Summary, int, error)
	GetSummary(ctx context.Context, id uuid.UUID) (*Summary, error)
	Fee(ctx context.Context, doctorID uuid.UUID) (int64, error)
}
