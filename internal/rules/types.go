// Package rules implements retention rules: the condition tree language,
// save-time validation, the pure evaluator, and rule CRUD.
package rules

import (
	"encoding/json"
	"time"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// ActionType determines what happens when a rule matches an item.
type ActionType string

const (
	ActionFlagForReview ActionType = "flag_for_review"
	ActionAutoDelete    ActionType = "auto_delete"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	return a == ActionFlagForReview || a == ActionAutoDelete
}

// GroupOperator combines the results of a group's children.
type GroupOperator string

const (
	GroupAnd GroupOperator = "AND"
	GroupOr  GroupOperator = "OR"
)

// Operator compares an item field against a condition value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpBefore      Operator = "before"
	OpAfter       Operator = "after"
	OpOlderThan   Operator = "olderThan"
	OpBetween     Operator = "between"
	OpContainsAny Operator = "containsAny"
)

// Unit is the unit of a relative-date condition value.
type Unit string

const (
	UnitDays   Unit = "days"
	UnitMonths Unit = "months"
	UnitYears  Unit = "years"
)

// Node is one node of a condition tree. A node with Operator set is a
// group combining its children; a node with Field set is a leaf condition.
// Setting both, or neither, is a validation error.
type Node struct {
	// Group fields
	Operator GroupOperator `json:"operator,omitempty"`
	Children []*Node       `json:"children,omitempty"`

	// Condition fields
	Field     string          `json:"field,omitempty"`
	Op        Operator        `json:"op,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	ValueUnit Unit            `json:"valueUnit,omitempty"`
}

// IsGroup reports whether n is a group node.
func (n *Node) IsGroup() bool {
	return n.Operator != ""
}

// Rule is an administrator-defined retention policy. Criteria edits do not
// retroactively alter candidates produced by earlier scans.
type Rule struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
	MediaType   media.Type `json:"mediaType"`
	ActionType  ActionType `json:"actionType"`
	Criteria    *Node      `json:"criteria"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// CreateInput contains fields for creating a rule.
type CreateInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Enabled     bool       `json:"enabled"`
	MediaType   media.Type `json:"mediaType"`
	ActionType  ActionType `json:"actionType"`
	Criteria    *Node      `json:"criteria"`
}

// UpdateInput contains fields for updating a rule.
type UpdateInput struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Enabled     *bool       `json:"enabled,omitempty"`
	MediaType   *media.Type `json:"mediaType,omitempty"`
	ActionType  *ActionType `json:"actionType,omitempty"`
	Criteria    *Node       `json:"criteria,omitempty"`
}
