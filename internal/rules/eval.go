package rules

import (
	"fmt"
	"time"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// Matcher reports whether a media item satisfies one compiled condition
// tree node. Matchers are pure: deterministic for a fixed now, no side
// effects.
type Matcher interface {
	Match(item *media.Item, now time.Time) bool
}

// Evaluate reports whether item satisfies tree. Trees are validated at
// rule-save time; a tree that fails to compile evaluates to false.
func Evaluate(tree *Node, item *media.Item, now time.Time) bool {
	m, errs := Compile(tree, item.Type)
	if len(errs) > 0 {
		return false
	}
	return m.Match(item, now)
}

// NormalizeUnit converts a relative-date count and unit into a fixed
// duration. Months and years use fixed 30 and 365 day buckets.
func NormalizeUnit(count int64, unit Unit) (time.Duration, error) {
	days := count
	switch unit {
	case UnitDays, "":
	case UnitMonths:
		days = count * 30
	case UnitYears:
		days = count * 365
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// groupMatcher combines child results. AND short-circuits on the first
// false child and OR on the first true child, in declared order. An empty
// AND matches everything; an empty OR matches nothing.
type groupMatcher struct {
	op       GroupOperator
	children []Matcher
}

func (m *groupMatcher) Match(item *media.Item, now time.Time) bool {
	if m.op == GroupOr {
		for _, child := range m.children {
			if child.Match(item, now) {
				return true
			}
		}
		return false
	}
	for _, child := range m.children {
		if !child.Match(item, now) {
			return false
		}
	}
	return true
}

type intEqualsMatcher struct {
	get  func(*media.Item) int64
	want int64
}

func (m *intEqualsMatcher) Match(item *media.Item, _ time.Time) bool {
	return m.get(item) == m.want
}

// intBetweenMatcher is inclusive on both ends.
type intBetweenMatcher struct {
	get      func(*media.Item) int64
	min, max int64
}

func (m *intBetweenMatcher) Match(item *media.Item, _ time.Time) bool {
	v := m.get(item)
	return v >= m.min && v <= m.max
}

type stringEqualsMatcher struct {
	get  func(*media.Item) string
	want string
}

func (m *stringEqualsMatcher) Match(item *media.Item, _ time.Time) bool {
	return m.get(item) == m.want
}

// dateCompareMatcher implements before/after. A missing field value never
// matches an ordered comparison.
type dateCompareMatcher struct {
	get   func(*media.Item) *time.Time
	bound time.Time
	after bool
}

func (m *dateCompareMatcher) Match(item *media.Item, _ time.Time) bool {
	v := m.get(item)
	if v == nil {
		return false
	}
	if m.after {
		return v.After(m.bound)
	}
	return v.Before(m.bound)
}

// olderThanMatcher matches items whose field value is at or beyond the
// window before now. A nil value (never watched) always matches: that is
// the documented policy, since an unwatched item is older than any watch
// cutoff.
type olderThanMatcher struct {
	get    func(*media.Item) *time.Time
	window time.Duration
}

func (m *olderThanMatcher) Match(item *media.Item, now time.Time) bool {
	v := m.get(item)
	if v == nil {
		return true
	}
	return !v.After(now.Add(-m.window))
}

// containsAnyMatcher matches when the item's value set intersects the
// condition list. An empty condition list never matches.
type containsAnyMatcher struct {
	get    func(*media.Item) []string
	values []string
}

func (m *containsAnyMatcher) Match(item *media.Item, _ time.Time) bool {
	if len(m.values) == 0 {
		return false
	}
	have := m.get(item)
	for _, want := range m.values {
		for _, v := range have {
			if v == want {
				return true
			}
		}
	}
	return false
}
