package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// ValidationError describes one problem with a rule's condition tree,
// pointing at the offending node by path (e.g. "criteria.children[1]").
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationErrors aggregates validation failures for one rule.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = fmt.Sprintf("%s: %s", ve.Path, ve.Message)
	}
	return "invalid condition tree: " + strings.Join(msgs, "; ")
}

type fieldKind int

const (
	kindInt fieldKind = iota
	kindString
	kindDate
	kindList
)

// fieldSpec describes one evaluable item field: its value kind, the
// operators it supports, the media types it applies to (nil = all), and a
// typed accessor.
type fieldSpec struct {
	kind  fieldKind
	ops   []Operator
	types []media.Type

	getInt  func(*media.Item) int64
	getStr  func(*media.Item) string
	getDate func(*media.Item) *time.Time
	getList func(*media.Item) []string
}

func (s fieldSpec) allows(op Operator) bool {
	for _, o := range s.ops {
		if o == op {
			return true
		}
	}
	return false
}

func (s fieldSpec) appliesTo(t media.Type) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, mt := range s.types {
		if mt == t {
			return true
		}
	}
	return false
}

// fields is the closed registry of evaluable item fields. Validation
// resolves every condition against this table so evaluation never sees an
// unknown field or operator.
var fields = map[string]fieldSpec{
	"playCount": {
		kind:   kindInt,
		ops:    []Operator{OpEquals, OpBetween},
		getInt: func(i *media.Item) int64 { return i.PlayCount },
	},
	"year": {
		kind:   kindInt,
		ops:    []Operator{OpEquals, OpBetween},
		getInt: func(i *media.Item) int64 { return int64(i.Year) },
	},
	"fileSize": {
		kind:   kindInt, // bytes
		ops:    []Operator{OpEquals, OpBetween},
		getInt: func(i *media.Item) int64 { return i.FileSize },
	},
	"bitrate": {
		kind:   kindInt, // kbps
		ops:    []Operator{OpEquals, OpBetween},
		types:  []media.Type{media.TypeMovie, media.TypeEpisode},
		getInt: func(i *media.Item) int64 { return i.Bitrate },
	},
	"resolution": {
		kind:   kindString,
		ops:    []Operator{OpEquals},
		types:  []media.Type{media.TypeMovie, media.TypeEpisode},
		getStr: func(i *media.Item) string { return i.Resolution },
	},
	"title": {
		kind:   kindString,
		ops:    []Operator{OpEquals},
		getStr: func(i *media.Item) string { return i.Title },
	},
	"genres": {
		kind:    kindList,
		ops:     []Operator{OpContainsAny},
		types:   []media.Type{media.TypeMovie, media.TypeTVSeries},
		getList: func(i *media.Item) []string { return i.Genres },
	},
	"addedAt": {
		kind: kindDate,
		ops:  []Operator{OpBefore, OpAfter, OpOlderThan},
		getDate: func(i *media.Item) *time.Time {
			if i.AddedAt.IsZero() {
				return nil
			}
			t := i.AddedAt
			return &t
		},
	},
	"lastWatchedAt": {
		kind:    kindDate,
		ops:     []Operator{OpBefore, OpAfter, OpOlderThan},
		getDate: func(i *media.Item) *time.Time { return i.LastWatchedAt },
	},
}

// Validate checks a condition tree against the field registry for the
// given media type. It runs at rule-save time; scans assume criteria that
// passed validation.
func Validate(tree *Node, mediaType media.Type) ValidationErrors {
	_, errs := Compile(tree, mediaType)
	return errs
}

// Compile resolves a condition tree into a matcher. Field and operator
// resolution happens here, once per rule, so per-item evaluation never
// dispatches on raw field names.
func Compile(tree *Node, mediaType media.Type) (Matcher, ValidationErrors) {
	c := &compiler{mediaType: mediaType}
	if tree == nil {
		c.addError("criteria", "criteria is required")
		return nil, c.errs
	}
	if !mediaType.Valid() {
		c.addError("criteria", "unknown media type %q", mediaType)
		return nil, c.errs
	}
	m := c.compileNode(tree, "criteria")
	if len(c.errs) > 0 {
		return nil, c.errs
	}
	return m, nil
}

type compiler struct {
	mediaType media.Type
	errs      ValidationErrors
}

func (c *compiler) addError(path, format string, args ...any) {
	c.errs = append(c.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (c *compiler) compileNode(n *Node, path string) Matcher {
	isGroup := n.Operator != "" || len(n.Children) > 0
	isCondition := n.Field != "" || n.Op != ""

	switch {
	case isGroup && isCondition:
		c.addError(path, "node cannot be both a group and a condition")
		return nil
	case !isGroup && !isCondition:
		c.addError(path, "node must set operator (group) or field (condition)")
		return nil
	case isGroup:
		return c.compileGroup(n, path)
	default:
		return c.compileCondition(n, path)
	}
}

func (c *compiler) compileGroup(n *Node, path string) Matcher {
	if n.Operator != GroupAnd && n.Operator != GroupOr {
		c.addError(path, "unknown group operator %q", n.Operator)
		return nil
	}

	children := make([]Matcher, 0, len(n.Children))
	for i, child := range n.Children {
		childPath := fmt.Sprintf("%s.children[%d]", path, i)
		if child == nil {
			c.addError(childPath, "node is null")
			continue
		}
		if m := c.compileNode(child, childPath); m != nil {
			children = append(children, m)
		}
	}

	return &groupMatcher{op: n.Operator, children: children}
}

func (c *compiler) compileCondition(n *Node, path string) Matcher {
	spec, ok := fields[n.Field]
	if !ok {
		c.addError(path, "unknown field %q", n.Field)
		return nil
	}
	if !spec.appliesTo(c.mediaType) {
		c.addError(path, "field %q does not apply to media type %q", n.Field, c.mediaType)
		return nil
	}
	if !spec.allows(n.Op) {
		c.addError(path, "operator %q is not supported for field %q", n.Op, n.Field)
		return nil
	}
	if n.Op != OpOlderThan && n.ValueUnit != "" {
		c.addError(path, "valueUnit only applies to operator %q", OpOlderThan)
		return nil
	}

	switch n.Op {
	case OpEquals:
		return c.compileEquals(n, spec, path)
	case OpBefore, OpAfter:
		bound, err := parseDate(n.Value)
		if err != nil {
			c.addError(path, "invalid date value: %v", err)
			return nil
		}
		return &dateCompareMatcher{get: spec.getDate, bound: bound, after: n.Op == OpAfter}
	case OpOlderThan:
		count, err := parseInt(n.Value)
		if err != nil {
			c.addError(path, "invalid count value: %v", err)
			return nil
		}
		if count < 0 {
			c.addError(path, "count must not be negative")
			return nil
		}
		window, err := NormalizeUnit(count, n.ValueUnit)
		if err != nil {
			c.addError(path, "%v", err)
			return nil
		}
		return &olderThanMatcher{get: spec.getDate, window: window}
	case OpBetween:
		var bounds []json.RawMessage
		if err := json.Unmarshal(n.Value, &bounds); err != nil || len(bounds) != 2 {
			c.addError(path, "between requires a [min, max] pair")
			return nil
		}
		min, err := parseInt(bounds[0])
		if err != nil {
			c.addError(path, "invalid min value: %v", err)
			return nil
		}
		max, err := parseInt(bounds[1])
		if err != nil {
			c.addError(path, "invalid max value: %v", err)
			return nil
		}
		if min > max {
			c.addError(path, "min must not exceed max")
			return nil
		}
		return &intBetweenMatcher{get: spec.getInt, min: min, max: max}
	case OpContainsAny:
		var values []string
		if err := json.Unmarshal(n.Value, &values); err != nil {
			c.addError(path, "containsAny requires a list of strings")
			return nil
		}
		return &containsAnyMatcher{get: spec.getList, values: values}
	default:
		c.addError(path, "unknown operator %q", n.Op)
		return nil
	}
}

func (c *compiler) compileEquals(n *Node, spec fieldSpec, path string) Matcher {
	switch spec.kind {
	case kindInt:
		want, err := parseInt(n.Value)
		if err != nil {
			c.addError(path, "invalid numeric value: %v", err)
			return nil
		}
		return &intEqualsMatcher{get: spec.getInt, want: want}
	case kindString:
		var want string
		if err := json.Unmarshal(n.Value, &want); err != nil {
			c.addError(path, "invalid string value")
			return nil
		}
		return &stringEqualsMatcher{get: spec.getStr, want: want}
	default:
		c.addError(path, "operator %q is not supported for field %q", n.Op, n.Field)
		return nil
	}
}

func parseInt(raw json.RawMessage) (int64, error) {
	var num json.Number
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return 0, fmt.Errorf("not a number")
	}
	v, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	return v, nil
}

// parseDate accepts a bare date ("2023-06-01") or an RFC 3339 timestamp.
func parseDate(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("not a string")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q is not a date", s)
}
