package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/infra/storage"
)

// MemoryStorage keeps batch items in memory for keyless and development runs.
type MemoryStorage struct {
	items map[string]*domain.BatchItem
	order []string // insertion order of item IDs
	mu    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]*domain.BatchItem),
	}
}

// BatchRepo implements storage.BatchRepository on MemoryStorage.
type BatchRepo struct {
	store *MemoryStorage
}

func NewBatchRepo(store *MemoryStorage) *BatchRepo {
	return &BatchRepo{store: store}
}

func (r *BatchRepo) Save(ctx context.Context, item *domain.BatchItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copied := *item
	if copied.Status == "" {
		copied.Status = domain.ItemStatusPending
	}
	if _, exists := r.store.items[item.ID]; !exists {
		r.store.order = append(r.store.order, item.ID)
	}
	r.store.items[item.ID] = &copied
	return nil
}

func (r *BatchRepo) SaveBatch(ctx context.Context, items []*domain.BatchItem) error {
	for _, item := range items {
		if err := r.Save(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *BatchRepo) Update(ctx context.Context, item *domain.BatchItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.items[item.ID]
	if !ok {
		return storage.ErrItemNotFound
	}
	// Completed items never regress.
	if stored.Status == domain.ItemStatusCompleted && item.Status != domain.ItemStatusCompleted {
		return nil
	}
	copied := *item
	r.store.items[item.ID] = &copied
	return nil
}

func (r *BatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	item, ok := r.store.items[id]
	if !ok {
		return nil, storage.ErrItemNotFound
	}
	copied := *item
	return &copied, nil
}

func (r *BatchRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.BatchItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var items []*domain.BatchItem
	for _, id := range r.store.order {
		item := r.store.items[id]
		if item.BatchID == batchID {
			copied := *item
			items = append(items, &copied)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r *BatchRepo) ListByStatus(ctx context.Context, batchID string, status domain.ItemStatus) ([]*domain.BatchItem, error) {
	all, err := r.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var items []*domain.BatchItem
	for _, item := range all {
		if item.Status == status {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *BatchRepo) CountByStatus(ctx context.Context, batchID string) (map[domain.ItemStatus]int, error) {
	all, err := r.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.ItemStatus]int)
	for _, item := range all {
		counts[item.Status]++
	}
	return counts, nil
}
