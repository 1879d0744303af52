package deletion

import (
	"fmt"
	"time"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// Log is one append-only record of a completed deletion. CandidateID is
// nil for manual and auto-delete deletions that never had a review row.
type Log struct {
	ID           int64      `json:"id"`
	CandidateID  *int64     `json:"candidateId,omitempty"`
	MediaType    media.Type `json:"mediaType"`
	Title        string     `json:"title"`
	Year         int        `json:"year,omitempty"`
	FileSize     int64      `json:"fileSize"`
	DeletedBy    string     `json:"deletedBy"`
	DeletedAt    time.Time  `json:"deletedAt"`
	DeletedFrom  string     `json:"deletedFrom"`
	FilesDeleted bool       `json:"filesDeleted"`
	RuleNames    []string   `json:"ruleNames"`
}

// DeletionError wraps a collaborator failure. The item was not removed
// and no log was written.
type DeletionError struct {
	RatingKey string
	Err       error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("failed to delete item %s: %v", e.RatingKey, e.Err)
}

func (e *DeletionError) Unwrap() error { return e.Err }

// ListOptions filters and paginates the deletion log.
type ListOptions struct {
	MediaType media.Type
	DeletedBy string
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

// ListResponse is one page of deletion logs.
type ListResponse struct {
	Items      []*Log `json:"items"`
	TotalCount int64  `json:"totalCount"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
}

// Stats aggregates the deletion log for reporting.
type Stats struct {
	TotalDeletions int64            `json:"totalDeletions"`
	BytesReclaimed int64            `json:"bytesReclaimed"`
	ByMediaType    map[string]int64 `json:"byMediaType"`
	ByDeletedBy    map[string]int64 `json:"byDeletedBy"`
	ByMonth        map[string]int64 `json:"byMonth"` // "2026-08" keys
}
