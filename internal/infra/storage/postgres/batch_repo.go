package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/infra/storage"
)

// BatchRepo implements storage.BatchRepository using PostgreSQL.
type BatchRepo struct {
	db *DB
}

// NewBatchRepo creates a new PostgreSQL batch item repository.
func NewBatchRepo(db *DB) *BatchRepo {
	return &BatchRepo{db: db}
}

type batchItemRow struct {
	ID            string    `db:"id"`
	BatchID       string    `db:"batch_id"`
	SourceAsset   string    `db:"source_asset"`
	Prompt        string    `db:"prompt"`
	Status        string    `db:"status"`
	RetryCount    int       `db:"retry_count"`
	ResultRef     string    `db:"result_ref"`
	ErrorCategory string    `db:"error_category"`
	ErrorHint     string    `db:"error_hint"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r batchItemRow) toDomain() *domain.BatchItem {
	return &domain.BatchItem{
		ID:            r.ID,
		BatchID:       r.BatchID,
		SourceAsset:   r.SourceAsset,
		Prompt:        r.Prompt,
		Status:        domain.ItemStatus(r.Status),
		RetryCount:    r.RetryCount,
		Result:        domain.ResultReference(r.ResultRef),
		ErrorCategory: r.ErrorCategory,
		ErrorHint:     r.ErrorHint,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// Save saves a batch item.
func (r *BatchRepo) Save(ctx context.Context, item *domain.BatchItem) error {
	query := `
		INSERT INTO batch_items (id, batch_id, source_asset, prompt, status, retry_count, result_ref, error_category, error_hint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`
	status := string(item.Status)
	if status == "" {
		status = string(domain.ItemStatusPending)
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		item.ID,
		item.BatchID,
		item.SourceAsset,
		item.Prompt,
		status,
		item.RetryCount,
		string(item.Result),
		item.ErrorCategory,
		item.ErrorHint,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch item: %w", err)
	}
	return nil
}

// SaveBatch saves multiple batch items.
func (r *BatchRepo) SaveBatch(ctx context.Context, items []*domain.BatchItem) error {
	for _, item := range items {
		if err := r.Save(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Update persists the item's current status, result and error fields.
func (r *BatchRepo) Update(ctx context.Context, item *domain.BatchItem) error {
	query := `
		UPDATE batch_items
		SET status = $2, retry_count = $3, result_ref = $4, error_category = $5, error_hint = $6, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(
		ctx,
		query,
		item.ID,
		string(item.Status),
		item.RetryCount,
		string(item.Result),
		item.ErrorCategory,
		item.ErrorHint,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrItemNotFound
	}
	return nil
}

// GetByID retrieves a batch item by ID.
func (r *BatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchItem, error) {
	query := `
		SELECT id, batch_id, source_asset, prompt, status, retry_count, result_ref, error_category, error_hint, created_at, updated_at
		FROM batch_items
		WHERE id = $1
	`

	var row batchItemRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch item: %w", err)
	}

	return row.toDomain(), nil
}

// ListByBatch retrieves all items of a batch in creation order.
func (r *BatchRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.BatchItem, error) {
	query := `
		SELECT id, batch_id, source_asset, prompt, status, retry_count, result_ref, error_category, error_hint, created_at, updated_at
		FROM batch_items
		WHERE batch_id = $1
		ORDER BY created_at ASC, id ASC
	`

	var rows []batchItemRow
	if err := r.db.SelectContext(ctx, &rows, query, batchID); err != nil {
		return nil, fmt.Errorf("failed to list batch items: %w", err)
	}

	items := make([]*domain.BatchItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

// ListByStatus retrieves the items of a batch in a given status, in creation order.
func (r *BatchRepo) ListByStatus(ctx context.Context, batchID string, status domain.ItemStatus) ([]*domain.BatchItem, error) {
	query := `
		SELECT id, batch_id, source_asset, prompt, status, retry_count, result_ref, error_category, error_hint, created_at, updated_at
		FROM batch_items
		WHERE batch_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC
	`

	var rows []batchItemRow
	if err := r.db.SelectContext(ctx, &rows, query, batchID, string(status)); err != nil {
		return nil, fmt.Errorf("failed to list batch items by status: %w", err)
	}

	items := make([]*domain.BatchItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

// CountByStatus returns per-status item counts for a batch.
func (r *BatchRepo) CountByStatus(ctx context.Context, batchID string) (map[domain.ItemStatus]int, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM batch_items
		WHERE batch_id = $1
		GROUP BY status
	`

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, batchID); err != nil {
		return nil, fmt.Errorf("failed to count batch items: %w", err)
	}

	counts := make(map[domain.ItemStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.ItemStatus(row.Status)] = row.Count
	}
	return counts, nil
}
