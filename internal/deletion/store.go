package deletion

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// List returns one page of the deletion log, newest first.
func (e *Executor) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}

	var conds []string
	var args []any
	if opts.MediaType != "" {
		conds = append(conds, "media_type = ?")
		args = append(args, string(opts.MediaType))
	}
	if opts.DeletedBy != "" {
		conds = append(conds, "deleted_by = ?")
		args = append(args, opts.DeletedBy)
	}
	if !opts.From.IsZero() {
		conds = append(conds, "deleted_at >= ?")
		args = append(args, opts.From)
	}
	if !opts.To.IsZero() {
		conds = append(conds, "deleted_at <= ?")
		args = append(args, opts.To)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deletion_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count deletion logs: %w", err)
	}

	query := `
		SELECT id, candidate_id, media_type, title, year, file_size, deleted_by, deleted_at, deleted_from, files_deleted, rule_names
		FROM deletion_logs` + where + `
		ORDER BY deleted_at DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deletion logs: %w", err)
	}
	defer rows.Close()

	items := make([]*Log, 0)
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListResponse{Items: items, TotalCount: total, Page: opts.Page, PageSize: opts.PageSize}, nil
}

// GetStats aggregates the whole deletion log.
func (e *Executor) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByMediaType: make(map[string]int64),
		ByDeletedBy: make(map[string]int64),
		ByMonth:     make(map[string]int64),
	}

	err := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN files_deleted THEN file_size ELSE 0 END), 0) FROM deletion_logs").
		Scan(&stats.TotalDeletions, &stats.BytesReclaimed)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate deletion logs: %w", err)
	}

	groups := []struct {
		expr string
		dest map[string]int64
	}{
		{"media_type", stats.ByMediaType},
		{"deleted_by", stats.ByDeletedBy},
		{"strftime('%Y-%m', deleted_at)", stats.ByMonth},
	}
	for _, g := range groups {
		if err := e.countBy(ctx, g.expr, g.dest); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

func (e *Executor) countBy(ctx context.Context, expr string, dest map[string]int64) error {
	rows, err := e.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM deletion_logs GROUP BY %s", expr, expr))
	if err != nil {
		return fmt.Errorf("failed to group deletion logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dest[key] = count
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*Log, error) {
	var (
		entry       Log
		candidateID sql.NullInt64
		mediaType   string
		year        sql.NullInt64
		names       string
	)
	err := row.Scan(&entry.ID, &candidateID, &mediaType, &entry.Title, &year,
		&entry.FileSize, &entry.DeletedBy, &entry.DeletedAt, &entry.DeletedFrom,
		&entry.FilesDeleted, &names)
	if err != nil {
		return nil, err
	}

	if candidateID.Valid {
		entry.CandidateID = &candidateID.Int64
	}
	entry.MediaType = media.Type(mediaType)
	entry.Year = int(year.Int64)
	if err := json.Unmarshal([]byte(names), &entry.RuleNames); err != nil {
		return nil, fmt.Errorf("failed to decode rule names: %w", err)
	}
	return &entry, nil
}
