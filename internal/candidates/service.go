package candidates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// ErrNotFound is returned when a candidate does not exist.
var ErrNotFound = errors.New("candidate not found")

// Service provides candidate review functionality.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewService creates a new candidates service.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "candidates").Logger(),
	}
}

const candidateColumns = `id, scan_id, plex_rating_key, title, year, media_type, poster,
	file_size, play_count, last_watched_at, added_at, matched_rules,
	review_status, reviewed_at, reviewed_by, review_note, created_at`

// UpsertMatch records a rule match for one item within a scan. At most one
// candidate exists per (scanID, ratingKey); re-encounters merge the rule
// name into matchedRules instead of creating a second row. The sqlite
// unique constraint, not an in-process lock, serializes concurrent
// workers. Returns true when a new candidate row was created.
func (s *Service) UpsertMatch(ctx context.Context, scanID int64, item *media.Item, ruleName string) (bool, error) {
	matched, err := json.Marshal([]string{ruleName})
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (scan_id, plex_rating_key, title, year, media_type, poster,
			file_size, play_count, last_watched_at, added_at, matched_rules)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id, plex_rating_key) DO NOTHING`,
		scanID, item.RatingKey, item.Title, item.Year, string(item.Type), item.Poster,
		item.FileSize, item.PlayCount, item.LastWatchedAt, nullableTime(item.AddedAt), string(matched))
	if err != nil {
		return false, fmt.Errorf("failed to upsert candidate: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	// Existing candidate: merge the rule name.
	var (
		id  int64
		raw string
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT id, matched_rules FROM candidates WHERE scan_id = ? AND plex_rating_key = ?",
		scanID, item.RatingKey).Scan(&id, &raw)
	if err != nil {
		return false, fmt.Errorf("failed to load existing candidate: %w", err)
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return false, fmt.Errorf("failed to decode matched rules: %w", err)
	}
	for _, n := range names {
		if n == ruleName {
			return false, nil
		}
	}
	names = append(names, ruleName)

	mergedJSON, err := json.Marshal(names)
	if err != nil {
		return false, err
	}
	_, err = s.db.ExecContext(ctx, "UPDATE candidates SET matched_rules = ? WHERE id = ?", string(mergedJSON), id)
	if err != nil {
		return false, fmt.Errorf("failed to merge matched rules: %w", err)
	}
	return false, nil
}

// Get returns one candidate by id.
func (s *Service) Get(ctx context.Context, id int64) (*Candidate, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+candidateColumns+" FROM candidates WHERE id = ?", id)
	cand, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cand, err
}

// List lists candidates with filtering and pagination.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.PageSize > 100 {
		opts.PageSize = 100
	}

	where := " WHERE 1=1"
	var args []any
	if opts.ScanID > 0 {
		where += " AND scan_id = ?"
		args = append(args, opts.ScanID)
	}
	if opts.ReviewStatus != "" {
		where += " AND review_status = ?"
		args = append(args, opts.ReviewStatus)
	}
	if opts.MediaType != "" {
		where += " AND media_type = ?"
		args = append(args, opts.MediaType)
	}

	var totalCount int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM candidates"+where, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count candidates: %w", err)
	}

	query := "SELECT " + candidateColumns + " FROM candidates" + where +
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	items := make([]*Candidate, 0, opts.PageSize)
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(totalCount) / opts.PageSize
	if int(totalCount)%opts.PageSize > 0 {
		totalPages++
	}

	return &ListResponse{
		Items:      items,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
	}, nil
}

// Review applies an approve or reject decision to a pending candidate,
// recording who decided and when. Re-reviewing a resolved candidate is an
// error, never a silent no-op.
func (s *Service) Review(ctx context.Context, id int64, decision Decision, reviewedBy, note string) (*Candidate, error) {
	var action Action
	switch decision {
	case DecisionApprove:
		action = ActionApprove
	case DecisionReject:
		action = ActionReject
	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	cand, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := Next(cand.ReviewStatus, action)
	if err != nil {
		return nil, err
	}

	// Optimistic guard: the row must still be in the state we read.
	res, err := s.db.ExecContext(ctx, `
		UPDATE candidates
		SET review_status = ?, reviewed_at = ?, reviewed_by = ?, review_note = ?
		WHERE id = ? AND review_status = ?`,
		string(next), time.Now().UTC(), reviewedBy, note, id, string(cand.ReviewStatus))
	if err != nil {
		return nil, fmt.Errorf("failed to update candidate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, &ConflictError{CandidateID: id, Status: cand.ReviewStatus}
	}

	s.logger.Info().
		Int64("candidateId", id).
		Str("decision", string(decision)).
		Str("reviewedBy", reviewedBy).
		Msg("candidate reviewed")

	return s.Get(ctx, id)
}

// BulkReview applies one decision to many candidates, reporting each
// item's outcome individually instead of aborting the batch.
func (s *Service) BulkReview(ctx context.Context, ids []int64, decision Decision, reviewedBy, note string) []BulkResult {
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		if _, err := s.Review(ctx, id, decision, reviewedBy, note); err != nil {
			results = append(results, BulkResult{ID: id, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{ID: id, OK: true})
	}
	return results
}

// Reset moves a candidate back to pending from any state and clears the
// review fields. This is an explicit operation outside the normal flow.
func (s *Service) Reset(ctx context.Context, id int64) (*Candidate, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE candidates
		SET review_status = ?, reviewed_at = NULL, reviewed_by = NULL, review_note = NULL
		WHERE id = ?`,
		string(StatusPending), id)
	if err != nil {
		return nil, fmt.Errorf("failed to reset candidate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	s.logger.Info().Int64("candidateId", id).Msg("candidate reset to pending")
	return s.Get(ctx, id)
}

// MarkDeleted flips an approved candidate to deleted. Only the deletion
// executor calls this, after the collaborator reported success. The guard
// keeps two concurrent executors from double-processing one candidate.
func (s *Service) MarkDeleted(ctx context.Context, id int64) error {
	cand, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	next, err := Next(cand.ReviewStatus, ActionMarkDeleted)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE candidates SET review_status = ? WHERE id = ? AND review_status = ?",
		string(next), id, string(cand.ReviewStatus))
	if err != nil {
		return fmt.Errorf("failed to mark candidate deleted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &ConflictError{CandidateID: id, Status: cand.ReviewStatus}
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (*Candidate, error) {
	var (
		cand       Candidate
		year       sql.NullInt64
		mediaType  string
		lastWatch  sql.NullTime
		addedAt    sql.NullTime
		matched    string
		status     string
		reviewedAt sql.NullTime
		reviewedBy sql.NullString
		reviewNote sql.NullString
	)
	err := row.Scan(&cand.ID, &cand.ScanID, &cand.PlexRatingKey, &cand.Title, &year,
		&mediaType, &cand.Poster, &cand.FileSize, &cand.PlayCount, &lastWatch, &addedAt,
		&matched, &status, &reviewedAt, &reviewedBy, &reviewNote, &cand.CreatedAt)
	if err != nil {
		return nil, err
	}

	cand.Year = int(year.Int64)
	cand.MediaType = media.Type(mediaType)
	cand.ReviewStatus = ReviewStatus(status)
	if lastWatch.Valid {
		cand.LastWatchedAt = &lastWatch.Time
	}
	if addedAt.Valid {
		cand.AddedAt = &addedAt.Time
	}
	if reviewedAt.Valid {
		cand.ReviewedAt = &reviewedAt.Time
	}
	cand.ReviewedBy = reviewedBy.String
	cand.ReviewNote = reviewNote.String
	if err := json.Unmarshal([]byte(matched), &cand.MatchedRules); err != nil {
		return nil, fmt.Errorf("failed to decode matched rules for candidate %d: %w", cand.ID, err)
	}
	return &cand, nil
}
