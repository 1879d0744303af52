// Package candidates implements the review workflow for deletion
// candidates flagged by scans.
package candidates

import (
	"time"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// ReviewStatus is the review state of a candidate.
type ReviewStatus string

const (
	StatusPending  ReviewStatus = "pending"
	StatusApproved ReviewStatus = "approved"
	StatusRejected ReviewStatus = "rejected"
	StatusDeleted  ReviewStatus = "deleted"
)

// Decision is an administrator review decision.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Candidate is a library item matched by a scan, carrying a denormalized
// snapshot of the item as it looked when flagged. Rule edits after the
// scan do not alter it.
type Candidate struct {
	ID            int64        `json:"id"`
	ScanID        int64        `json:"scanId"`
	PlexRatingKey string       `json:"plexRatingKey"`
	Title         string       `json:"title"`
	Year          int          `json:"year,omitempty"`
	MediaType     media.Type   `json:"mediaType"`
	Poster        string       `json:"poster,omitempty"`
	FileSize      int64        `json:"fileSize"`
	PlayCount     int64        `json:"playCount"`
	LastWatchedAt *time.Time   `json:"lastWatchedAt,omitempty"`
	AddedAt       *time.Time   `json:"addedAt,omitempty"`
	MatchedRules  []string     `json:"matchedRules"`
	ReviewStatus  ReviewStatus `json:"reviewStatus"`
	ReviewedAt    *time.Time   `json:"reviewedAt,omitempty"`
	ReviewedBy    string       `json:"reviewedBy,omitempty"`
	ReviewNote    string       `json:"reviewNote,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// ListOptions contains options for listing candidates.
type ListOptions struct {
	ScanID       int64
	ReviewStatus string
	MediaType    string
	Page         int
	PageSize     int
}

// ListResponse contains paginated candidate results.
type ListResponse struct {
	Items      []*Candidate `json:"items"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalCount int64        `json:"totalCount"`
	TotalPages int          `json:"totalPages"`
}

// BulkResult reports the outcome of one item in a bulk review. A batch
// with some non-pending items partially succeeds; each item reports its
// own outcome.
type BulkResult struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
