// Package defaults ships starter retention rules and seeds them into the
// database on first run. All starter rules are created disabled.
package defaults

import (
	"context"
	_ "embed"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
	"github.com/mchestr/plex-wrapped-sub007/internal/rules"
)

//go:embed rules.yaml
var starterRulesYAML []byte

// seededKey marks the settings table once seeding has happened, so user
// deletions of starter rules stick across restarts.
const seededKey = "starter_rules_seeded"

type starterFile struct {
	Rules []starterRule `yaml:"rules"`
}

type starterRule struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	MediaType   string      `yaml:"mediaType"`
	ActionType  string      `yaml:"actionType"`
	Criteria    starterNode `yaml:"criteria"`
}

type starterNode struct {
	Operator  string         `yaml:"operator"`
	Children  []*starterNode `yaml:"children"`
	Field     string         `yaml:"field"`
	Op        string         `yaml:"op"`
	Value     any            `yaml:"value"`
	ValueUnit string         `yaml:"valueUnit"`
}

// Service seeds the embedded starter rules.
type Service struct {
	db     *sql.DB
	rules  *rules.Service
	logger zerolog.Logger
}

func NewService(db *sql.DB, ruleService *rules.Service, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		rules:  ruleService,
		logger: logger.With().Str("component", "defaults").Logger(),
	}
}

// Seed creates the starter rules unless a previous run already did.
func (s *Service) Seed(ctx context.Context) error {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", seededKey).Scan(&value)
	if err == nil && value == "1" {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read seed marker: %w", err)
	}

	starters, err := Load()
	if err != nil {
		return err
	}

	for _, input := range starters {
		if _, err := s.rules.Create(ctx, input); err != nil {
			if errors.Is(err, rules.ErrNameTaken) {
				continue
			}
			return fmt.Errorf("failed to seed rule %q: %w", input.Name, err)
		}
		s.logger.Info().Str("rule", input.Name).Msg("seeded starter rule")
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, '1') ON CONFLICT(key) DO UPDATE SET value = '1'", seededKey)
	if err != nil {
		return fmt.Errorf("failed to write seed marker: %w", err)
	}
	return nil
}

// Load parses the embedded starter rules into create inputs.
func Load() ([]rules.CreateInput, error) {
	var file starterFile
	if err := yaml.Unmarshal(starterRulesYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to parse starter rules: %w", err)
	}

	inputs := make([]rules.CreateInput, 0, len(file.Rules))
	for _, sr := range file.Rules {
		criteria, err := convertNode(&sr.Criteria)
		if err != nil {
			return nil, fmt.Errorf("starter rule %q: %w", sr.Name, err)
		}
		inputs = append(inputs, rules.CreateInput{
			Name:        sr.Name,
			Description: sr.Description,
			Enabled:     false,
			MediaType:   media.Type(sr.MediaType),
			ActionType:  rules.ActionType(sr.ActionType),
			Criteria:    criteria,
		})
	}
	return inputs, nil
}

func convertNode(sn *starterNode) (*rules.Node, error) {
	node := &rules.Node{
		Operator:  rules.GroupOperator(sn.Operator),
		Field:     sn.Field,
		Op:        rules.Operator(sn.Op),
		ValueUnit: rules.Unit(sn.ValueUnit),
	}
	if sn.Value != nil {
		raw, err := json.Marshal(sn.Value)
		if err != nil {
			return nil, err
		}
		node.Value = raw
	}
	for _, child := range sn.Children {
		converted, err := convertNode(child)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, converted)
	}
	return node, nil
}
