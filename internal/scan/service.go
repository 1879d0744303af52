package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mchestr/plex-wrapped-sub007/internal/candidates"
	"github.com/mchestr/plex-wrapped-sub007/internal/progress"
	"github.com/mchestr/plex-wrapped-sub007/internal/rules"
)

// Errors returned by the scan service.
var (
	ErrNotFound       = errors.New("scan not found")
	ErrRuleDisabled   = errors.New("rule is disabled")
	ErrScanInProgress = errors.New("a scan is already running for this rule")
	ErrNotRunning     = errors.New("scan is not running")
)

// progressEvery controls how often item counts are broadcast mid-scan.
const progressEvery = 25

// Service runs retention scans. At most one scan runs per rule at a time;
// independent rules scan concurrently.
type Service struct {
	db         *sql.DB
	rules      *rules.Service
	candidates *candidates.Service
	inventory  InventoryProvider
	deleter    AutoDeleter
	logger     zerolog.Logger

	progressMgr *progress.Manager

	mu      sync.Mutex
	byRule  map[int64]int64 // ruleID -> active scanID
	cancels map[int64]context.CancelFunc
}

// NewService creates a new scan service.
func NewService(db *sql.DB, ruleService *rules.Service, candidateService *candidates.Service,
	inventory InventoryProvider, deleter AutoDeleter, logger zerolog.Logger) *Service {
	return &Service{
		db:         db,
		rules:      ruleService,
		candidates: candidateService,
		inventory:  inventory,
		deleter:    deleter,
		logger:     logger.With().Str("component", "scan").Logger(),
		byRule:     make(map[int64]int64),
		cancels:    make(map[int64]context.CancelFunc),
	}
}

// SetProgressManager wires scan progress broadcasting. Optional.
func (s *Service) SetProgressManager(pm *progress.Manager) {
	s.progressMgr = pm
}

// Start begins a scan for the rule in the background and returns the scan
// row immediately. Use Cancel to stop it between items.
func (s *Service) Start(ctx context.Context, ruleID int64) (*Scan, error) {
	rule, err := s.loadRunnableRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	scan, runCtx, err := s.begin(ctx, rule.ID)
	if err != nil {
		return nil, err
	}

	go func() {
		defer s.finishSlot(rule.ID, scan.ID)
		s.execute(runCtx, rule, scan)
	}()

	return s.Get(ctx, scan.ID)
}

// RunScan executes one scan synchronously and returns the terminal scan
// row. The scheduler task and tests use this form.
func (s *Service) RunScan(ctx context.Context, ruleID int64) (*Scan, error) {
	rule, err := s.loadRunnableRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	scan, runCtx, err := s.begin(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	defer s.finishSlot(rule.ID, scan.ID)

	s.execute(runCtx, rule, scan)
	return s.Get(ctx, scan.ID)
}

// Cancel asks a running scan to stop cooperatively. The scan transitions
// to failed, keeping its partial counts.
func (s *Service) Cancel(scanID int64) error {
	s.mu.Lock()
	cancel, ok := s.cancels[scanID]
	s.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	cancel()
	return nil
}

func (s *Service) loadRunnableRule(ctx context.Context, ruleID int64) (*rules.Rule, error) {
	rule, err := s.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Enabled {
		return nil, ErrRuleDisabled
	}
	return rule, nil
}

// begin claims the rule's scan slot and creates the scan row. The returned
// context is detached from the caller so HTTP-triggered scans outlive the
// request; Cancel drives cooperative shutdown instead.
func (s *Service) begin(ctx context.Context, ruleID int64) (*Scan, context.Context, error) {
	s.mu.Lock()
	if _, busy := s.byRule[ruleID]; busy {
		s.mu.Unlock()
		return nil, nil, ErrScanInProgress
	}
	// Claim the slot before releasing the lock; the scan row id fills in
	// below.
	s.byRule[ruleID] = 0
	s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "INSERT INTO scans (rule_id, status) VALUES (?, ?)", ruleID, string(StatusPending))
	if err != nil {
		s.releaseSlot(ruleID)
		return nil, nil, fmt.Errorf("failed to create scan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		s.releaseSlot(ruleID)
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.byRule[ruleID] = id
	s.cancels[id] = cancel
	s.mu.Unlock()

	return &Scan{ID: id, RuleID: ruleID, Status: StatusPending}, runCtx, nil
}

func (s *Service) releaseSlot(ruleID int64) {
	s.mu.Lock()
	delete(s.byRule, ruleID)
	s.mu.Unlock()
}

func (s *Service) finishSlot(ruleID, scanID int64) {
	s.mu.Lock()
	delete(s.byRule, ruleID)
	if cancel, ok := s.cancels[scanID]; ok {
		cancel()
		delete(s.cancels, scanID)
	}
	s.mu.Unlock()
}

// execute runs the scan to a terminal state. All failures land in the
// scans row; execute never panics the caller with partial state.
func (s *Service) execute(ctx context.Context, rule *rules.Rule, scan *Scan) {
	logger := s.logger.With().Int64("scanId", scan.ID).Int64("ruleId", rule.ID).Str("rule", rule.Name).Logger()

	activityID := fmt.Sprintf("scan-%d", scan.ID)
	if s.progressMgr != nil {
		s.progressMgr.StartActivity(activityID, progress.ActivityTypeScan, fmt.Sprintf("Scanning %q", rule.Name))
	}

	if err := s.markRunning(ctx, scan.ID); err != nil {
		logger.Error().Err(err).Msg("failed to mark scan running")
		s.fail(ctx, scan.ID, 0, 0, err.Error(), activityID)
		return
	}

	// Criteria were validated at save time; a failure here means the rule
	// was edited into an incompatible shape and the scan must not proceed.
	matcher, verrs := rules.Compile(rule.Criteria, rule.MediaType)
	if len(verrs) > 0 {
		logger.Error().Str("error", verrs.Error()).Msg("rule criteria no longer compile")
		s.fail(ctx, scan.ID, 0, 0, verrs.Error(), activityID)
		return
	}

	iter, err := s.inventory.ListItems(ctx, rule.MediaType)
	if err != nil {
		invErr := &InventoryError{Err: err}
		logger.Error().Err(err).Msg("inventory listing failed")
		s.fail(ctx, scan.ID, 0, 0, invErr.Error(), activityID)
		return
	}
	defer iter.Close()

	var scanned, flagged int64
	now := time.Now().UTC()

	for {
		if err := ctx.Err(); err != nil {
			logger.Warn().Int64("itemsScanned", scanned).Msg("scan cancelled")
			s.fail(ctx, scan.ID, scanned, flagged, "scan cancelled", activityID)
			return
		}

		item, err := iter.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn().Int64("itemsScanned", scanned).Msg("scan cancelled")
				s.fail(ctx, scan.ID, scanned, flagged, "scan cancelled", activityID)
				return
			}
			invErr := &InventoryError{Err: err}
			logger.Error().Err(err).Int64("itemsScanned", scanned).Msg("inventory stream failed")
			s.fail(ctx, scan.ID, scanned, flagged, invErr.Error(), activityID)
			return
		}
		if item == nil {
			break
		}

		scanned++

		if matcher.Match(item, now) {
			if rule.ActionType == rules.ActionAutoDelete {
				if err := s.deleter.AutoDelete(ctx, item, []string{rule.Name}); err != nil {
					// Deletion failures never abort the scan; the item
					// will match again on the next run.
					logger.Warn().Err(err).Str("ratingKey", item.RatingKey).Msg("auto-delete failed")
				} else {
					flagged++
				}
			} else {
				created, err := s.candidates.UpsertMatch(ctx, scan.ID, item, rule.Name)
				if err != nil {
					logger.Error().Err(err).Str("ratingKey", item.RatingKey).Msg("candidate upsert failed")
					s.fail(ctx, scan.ID, scanned, flagged, fmt.Sprintf("candidate upsert failed: %v", err), activityID)
					return
				}
				if created {
					flagged++
				}
			}
		}

		if s.progressMgr != nil && scanned%progressEvery == 0 {
			s.progressMgr.UpdateActivity(activityID,
				fmt.Sprintf("Scanned %d items, flagged %d", scanned, flagged), -1)
		}
	}

	if err := s.complete(ctx, scan.ID, scanned, flagged); err != nil {
		logger.Error().Err(err).Msg("failed to mark scan completed")
		return
	}

	if s.progressMgr != nil {
		s.progressMgr.CompleteActivity(activityID,
			fmt.Sprintf("Scanned %d items, flagged %d", scanned, flagged))
	}
	logger.Info().
		Int64("itemsScanned", scanned).
		Int64("itemsFlagged", flagged).
		Msg("scan completed")
}

func (s *Service) markRunning(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE scans SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		string(StatusRunning), time.Now().UTC(), id, string(StatusPending))
	return err
}

// fail moves a scan to its terminal failed state, keeping partial counts.
// The guard on status keeps terminal rows immutable.
func (s *Service) fail(ctx context.Context, id, scanned, flagged int64, msg, activityID string) {
	// The run context may already be cancelled; the terminal write must
	// still land.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, error = ?, items_scanned = ?, items_flagged = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(StatusFailed), msg, scanned, flagged, time.Now().UTC(),
		id, string(StatusPending), string(StatusRunning))
	if err != nil {
		s.logger.Error().Err(err).Int64("scanId", id).Msg("failed to persist scan failure")
	}
	if s.progressMgr != nil {
		s.progressMgr.FailActivity(activityID, msg)
	}
}

func (s *Service) complete(ctx context.Context, id, scanned, flagged int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, items_scanned = ?, items_flagged = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusCompleted), scanned, flagged, time.Now().UTC(), id, string(StatusRunning))
	return err
}

const scanColumns = "id, rule_id, status, error, items_scanned, items_flagged, started_at, completed_at, created_at"

// Get returns one scan by id.
func (s *Service) Get(ctx context.Context, id int64) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+scanColumns+" FROM scans WHERE id = ?", id)
	scan, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return scan, err
}

// List lists scans with filtering and pagination, newest first.
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
	if opts.RuleID > 0 {
		where += " AND rule_id = ?"
		args = append(args, opts.RuleID)
	}
	if opts.Status != "" {
		where += " AND status = ?"
		args = append(args, opts.Status)
	}

	var totalCount int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scans"+where, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count scans: %w", err)
	}

	query := "SELECT " + scanColumns + " FROM scans" + where + " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	items := make([]*Scan, 0, opts.PageSize)
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, scan)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*Scan, error) {
	var (
		scan        Scan
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&scan.ID, &scan.RuleID, &status, &scan.Error,
		&scan.ItemsScanned, &scan.ItemsFlagged, &startedAt, &completedAt, &scan.CreatedAt)
	if err != nil {
		return nil, err
	}
	scan.Status = Status(status)
	if startedAt.Valid {
		scan.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		scan.CompletedAt = &completedAt.Time
	}
	return &scan, nil
}
