// Package scan orchestrates retention scans: streaming library items from
// the inventory provider, evaluating rule criteria per item, and recording
// candidates and counts.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// Status is the lifecycle state of a scan. A scan leaves running exactly
// once, for completed or failed, and is immutable after that.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Scan is one execution of a rule against current inventory. Failed scans
// keep their partial counts for diagnostics.
type Scan struct {
	ID           int64      `json:"id"`
	RuleID       int64      `json:"ruleId"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	ItemsScanned int64      `json:"itemsScanned"`
	ItemsFlagged int64      `json:"itemsFlagged"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// ItemIterator is a lazy, finite, non-restartable sequence of media items.
// Next returns (nil, nil) once the sequence is exhausted.
type ItemIterator interface {
	Next(ctx context.Context) (*media.Item, error)
	Close() error
}

// InventoryProvider streams the library catalog with watch metrics. The
// Plex client implements it in production.
type InventoryProvider interface {
	ListItems(ctx context.Context, mediaType media.Type) (ItemIterator, error)
}

// AutoDeleter executes deletions for auto-delete rule matches directly
// from the scanner, bypassing review.
type AutoDeleter interface {
	AutoDelete(ctx context.Context, item *media.Item, ruleNames []string) error
}

// InventoryError wraps a provider failure that terminated a scan.
type InventoryError struct {
	Err error
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("inventory provider failed: %v", e.Err)
}

func (e *InventoryError) Unwrap() error {
	return e.Err
}

// ListOptions contains options for listing scans.
type ListOptions struct {
	RuleID   int64
	Status   string
	Page     int
	PageSize int
}

// ListResponse contains paginated scan results.
type ListResponse struct {
	Items      []*Scan `json:"items"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	TotalCount int64   `json:"totalCount"`
	TotalPages int     `json:"totalPages"`
}
