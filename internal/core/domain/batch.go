package domain

import "time"

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusError      ItemStatus = "error"
	ItemStatusCancelled  ItemStatus = "cancelled"
)

// Terminal reports whether the status is a final state for one run.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemStatusCompleted, ItemStatusError, ItemStatusCancelled:
		return true
	default:
		return false
	}
}

// BatchItem is one unit of work in a multi-job run: one source asset paired
// with one prompt, tracked through an explicit status. Items are created when
// the batch is assembled and mutated only by the batch orchestrator; they are
// never deleted, only re-entered into processing on retry.
type BatchItem struct {
	ID            string
	BatchID       string
	SourceAsset   string
	Prompt        string
	Status        ItemStatus
	RetryCount    int
	Result        ResultReference
	ErrorCategory string
	ErrorHint     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
