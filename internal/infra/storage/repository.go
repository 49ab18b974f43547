package storage

import (
	"context"
	"errors"

	"github.com/vietddude/genflow/internal/core/domain"
)

var (
	// ErrItemNotFound is returned when a batch item doesn't exist
	ErrItemNotFound = errors.New("batch item not found")
)

// BatchRepository handles batch item persistence.
type BatchRepository interface {
	// Save saves a batch item
	Save(ctx context.Context, item *domain.BatchItem) error

	// SaveBatch saves multiple batch items
	SaveBatch(ctx context.Context, items []*domain.BatchItem) error

	// Update persists the item's current status, result and error fields
	Update(ctx context.Context, item *domain.BatchItem) error

	// GetByID retrieves a batch item by ID
	GetByID(ctx context.Context, id string) (*domain.BatchItem, error)

	// ListByBatch retrieves all items of a batch in creation order
	ListByBatch(ctx context.Context, batchID string) ([]*domain.BatchItem, error)

	// ListByStatus retrieves the items of a batch in a given status, in creation order
	ListByStatus(ctx context.Context, batchID string, status domain.ItemStatus) ([]*domain.BatchItem, error)

	// CountByStatus returns per-status item counts for a batch
	CountByStatus(ctx context.Context, batchID string) (map[domain.ItemStatus]int, error)
}
