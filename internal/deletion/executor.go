// Package deletion executes item deletions against the media server and
// keeps the append-only audit log behind retention reporting.
package deletion

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mchestr/plex-wrapped-sub007/internal/candidates"
	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// MediaServer is the collaborator that owns the actual library items.
type MediaServer interface {
	GetItem(ctx context.Context, ratingKey string) (*media.Item, error)
	DeleteItem(ctx context.Context, ratingKey string) (filesDeleted bool, reclaimedBytes int64, err error)
}

// Executor drives deletions through the collaborator and records every
// success in the deletion log. Failures leave no trace in the log.
type Executor struct {
	db         *sql.DB
	candidates *candidates.Service
	server     MediaServer
	serverName string
	logger     zerolog.Logger
}

func NewExecutor(db *sql.DB, candidateService *candidates.Service, server MediaServer, serverName string, logger zerolog.Logger) *Executor {
	return &Executor{
		db:         db,
		candidates: candidateService,
		server:     server,
		serverName: serverName,
		logger:     logger.With().Str("component", "deletion").Logger(),
	}
}

// ExecuteCandidate deletes the item behind an approved candidate. The
// candidate must be approved before the collaborator is called; after a
// successful deletion it transitions to deleted and the log row is
// appended with the rule names the candidate matched.
func (e *Executor) ExecuteCandidate(ctx context.Context, candidateID int64, deletedBy string) (*Log, error) {
	cand, err := e.candidates.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if _, err := candidates.Next(cand.ReviewStatus, candidates.ActionMarkDeleted); err != nil {
		return nil, err
	}

	filesDeleted, reclaimed, err := e.server.DeleteItem(ctx, cand.PlexRatingKey)
	if err != nil {
		e.logger.Error().Err(err).
			Int64("candidateId", candidateID).
			Str("ratingKey", cand.PlexRatingKey).
			Msg("collaborator rejected deletion")
		return nil, &DeletionError{RatingKey: cand.PlexRatingKey, Err: err}
	}

	// The files are gone either way; a lost race on the status flip must
	// not lose the audit record.
	if err := e.candidates.MarkDeleted(ctx, candidateID); err != nil {
		e.logger.Warn().Err(err).Int64("candidateId", candidateID).Msg("candidate status flip failed after deletion")
	}

	fileSize := cand.FileSize
	if reclaimed > 0 {
		fileSize = reclaimed
	}

	entry := &Log{
		CandidateID:  &candidateID,
		MediaType:    cand.MediaType,
		Title:        cand.Title,
		Year:         cand.Year,
		FileSize:     fileSize,
		DeletedBy:    deletedBy,
		DeletedFrom:  e.serverName,
		FilesDeleted: filesDeleted,
		RuleNames:    cand.MatchedRules,
	}
	if err := e.appendLog(ctx, entry); err != nil {
		return nil, err
	}

	e.logger.Info().
		Int64("candidateId", candidateID).
		Str("title", cand.Title).
		Int64("fileSize", fileSize).
		Str("deletedBy", deletedBy).
		Msg("candidate deleted")
	return entry, nil
}

// ExecuteItem deletes an item outside the review workflow. Auto-delete
// rules and manual deletions both land here; the log row carries no
// candidate reference.
func (e *Executor) ExecuteItem(ctx context.Context, item *media.Item, ruleNames []string, deletedBy string) (*Log, error) {
	filesDeleted, reclaimed, err := e.server.DeleteItem(ctx, item.RatingKey)
	if err != nil {
		return nil, &DeletionError{RatingKey: item.RatingKey, Err: err}
	}

	fileSize := item.FileSize
	if reclaimed > 0 {
		fileSize = reclaimed
	}

	entry := &Log{
		MediaType:    item.Type,
		Title:        item.Title,
		Year:         item.Year,
		FileSize:     fileSize,
		DeletedBy:    deletedBy,
		DeletedFrom:  e.serverName,
		FilesDeleted: filesDeleted,
		RuleNames:    ruleNames,
	}
	if err := e.appendLog(ctx, entry); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("ratingKey", item.RatingKey).
		Str("title", item.Title).
		Str("deletedBy", deletedBy).
		Strs("ruleNames", ruleNames).
		Msg("item deleted")
	return entry, nil
}

// ExecuteManual looks an item up by rating key and deletes it on behalf
// of a user acting outside any rule.
func (e *Executor) ExecuteManual(ctx context.Context, ratingKey, deletedBy string) (*Log, error) {
	item, err := e.server.GetItem(ctx, ratingKey)
	if err != nil {
		return nil, &DeletionError{RatingKey: ratingKey, Err: err}
	}
	return e.ExecuteItem(ctx, item, nil, deletedBy)
}

// AutoDelete satisfies the scanner's deleter dependency for rules with
// the auto-delete action.
func (e *Executor) AutoDelete(ctx context.Context, item *media.Item, ruleNames []string) error {
	_, err := e.ExecuteItem(ctx, item, ruleNames, "auto")
	return err
}

func (e *Executor) appendLog(ctx context.Context, entry *Log) error {
	names := entry.RuleNames
	if names == nil {
		names = []string{}
	}
	namesJSON, err := json.Marshal(names)
	if err != nil {
		return err
	}

	entry.DeletedAt = time.Now().UTC()
	res, err := e.db.ExecContext(ctx, `
		INSERT INTO deletion_logs (candidate_id, media_type, title, year, file_size, deleted_by, deleted_at, deleted_from, files_deleted, rule_names)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		candidateIDValue(entry.CandidateID), string(entry.MediaType), entry.Title, yearValue(entry.Year),
		entry.FileSize, entry.DeletedBy, entry.DeletedAt, entry.DeletedFrom, entry.FilesDeleted, string(namesJSON))
	if err != nil {
		return fmt.Errorf("failed to append deletion log: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	return err
}

func candidateIDValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func yearValue(year int) any {
	if year == 0 {
		return nil
	}
	return year
}
