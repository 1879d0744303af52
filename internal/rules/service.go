package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// ErrNotFound is returned when a rule does not exist.
var ErrNotFound = errors.New("rule not found")

// ErrNameTaken is returned when a rule name is already in use.
var ErrNameTaken = errors.New("rule name already in use")

// Service provides rule management functionality.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewService creates a new rules service.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "rules").Logger(),
	}
}

const ruleColumns = "id, name, description, enabled, media_type, action_type, criteria, created_at, updated_at"

// Create validates and persists a new rule.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Rule, error) {
	if input.Name == "" {
		return nil, ValidationErrors{{Path: "name", Message: "name is required"}}
	}
	if !input.ActionType.Valid() {
		return nil, ValidationErrors{{Path: "actionType", Message: fmt.Sprintf("unknown action type %q", input.ActionType)}}
	}
	if errs := Validate(input.Criteria, input.MediaType); len(errs) > 0 {
		return nil, errs
	}

	criteria, err := json.Marshal(input.Criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to encode criteria: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (name, description, enabled, media_type, action_type, criteria)
		VALUES (?, ?, ?, ?, ?, ?)`,
		input.Name, input.Description, input.Enabled, string(input.MediaType), string(input.ActionType), string(criteria))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("ruleId", id).Str("name", input.Name).Msg("rule created")
	return s.Get(ctx, id)
}

// Get returns one rule by id.
func (s *Service) Get(ctx context.Context, id int64) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// List returns all rules ordered by name.
func (s *Service) List(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+ruleColumns+" FROM rules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var result []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

// ListEnabled returns all enabled rules ordered by name.
func (s *Service) ListEnabled(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE enabled = 1 ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var result []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

// Update applies the provided fields to an existing rule, re-validating
// criteria against the rule's (possibly updated) media type. Existing
// candidates from earlier scans are not touched.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (*Rule, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		rule.Name = *input.Name
	}
	if input.Description != nil {
		rule.Description = *input.Description
	}
	if input.Enabled != nil {
		rule.Enabled = *input.Enabled
	}
	if input.MediaType != nil {
		rule.MediaType = *input.MediaType
	}
	if input.ActionType != nil {
		rule.ActionType = *input.ActionType
	}
	if input.Criteria != nil {
		rule.Criteria = input.Criteria
	}

	if rule.Name == "" {
		return nil, ValidationErrors{{Path: "name", Message: "name is required"}}
	}
	if !rule.ActionType.Valid() {
		return nil, ValidationErrors{{Path: "actionType", Message: fmt.Sprintf("unknown action type %q", rule.ActionType)}}
	}
	if errs := Validate(rule.Criteria, rule.MediaType); len(errs) > 0 {
		return nil, errs
	}

	criteria, err := json.Marshal(rule.Criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to encode criteria: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = ?, description = ?, enabled = ?, media_type = ?, action_type = ?, criteria = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		rule.Name, rule.Description, rule.Enabled, string(rule.MediaType), string(rule.ActionType), string(criteria), id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	s.logger.Info().Int64("ruleId", id).Msg("rule updated")
	return s.Get(ctx, id)
}

// Delete removes a rule. Scans and candidates produced by the rule cascade
// away with it; deletion logs keep their rule name snapshots.
func (s *Service) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.logger.Info().Int64("ruleId", id).Msg("rule deleted")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule      Rule
		mediaType string
		action    string
		criteria  string
	)
	err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Enabled,
		&mediaType, &action, &criteria, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rule.MediaType = media.Type(mediaType)
	rule.ActionType = ActionType(action)
	if err := json.Unmarshal([]byte(criteria), &rule.Criteria); err != nil {
		return nil, fmt.Errorf("failed to decode criteria for rule %d: %w", rule.ID, err)
	}
	return &rule, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
