package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal value: %v", err)
	}
	return b
}

func cond(t *testing.T, field string, op Operator, value any) *Node {
	t.Helper()
	return &Node{Field: field, Op: op, Value: raw(t, value)}
}

func testMovie() *media.Item {
	added := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	watched := time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC)
	return &media.Item{
		RatingKey:     "p1",
		Type:          media.TypeMovie,
		Title:         "Old Movie",
		Year:          2019,
		PlayCount:     0,
		FileSize:      3221225472, // 3 GB
		Bitrate:       8000,
		Resolution:    "1080",
		Genres:        []string{"Drama", "Thriller"},
		AddedAt:       added,
		LastWatchedAt: &watched,
	}
}

func TestEvaluate_EmptyGroups(t *testing.T) {
	item := testMovie()
	now := time.Now()

	if !Evaluate(&Node{Operator: GroupAnd}, item, now) {
		t.Error("empty AND group should match every item")
	}
	if Evaluate(&Node{Operator: GroupOr}, item, now) {
		t.Error("empty OR group should match no item")
	}
}

func TestEvaluate_BetweenInclusive(t *testing.T) {
	now := time.Now()
	tests := []struct {
		playCount int64
		want      bool
	}{
		{5, true},
		{7, true},
		{10, true},
		{11, false},
		{4, false},
	}

	tree := cond(t, "playCount", OpBetween, []int64{5, 10})
	for _, tt := range tests {
		item := testMovie()
		item.PlayCount = tt.playCount
		if got := Evaluate(tree, item, now); got != tt.want {
			t.Errorf("between [5,10] with playCount=%d = %v, want %v", tt.playCount, got, tt.want)
		}
	}
}

func TestEvaluate_BetweenFileSizeBoundary(t *testing.T) {
	// Exactly 3 GB sits on the upper bound and must match.
	tree := cond(t, "fileSize", OpBetween, []int64{0, 3221225472})
	item := testMovie()
	item.FileSize = 3221225472

	if !Evaluate(tree, item, time.Now()) {
		t.Error("fileSize exactly at the upper bound should match")
	}
}

func TestEvaluate_ContainsAny(t *testing.T) {
	now := time.Now()
	item := testMovie()

	if !Evaluate(cond(t, "genres", OpContainsAny, []string{"Comedy", "Drama"}), item, now) {
		t.Error("containsAny should match on intersecting genre")
	}
	if Evaluate(cond(t, "genres", OpContainsAny, []string{"Comedy"}), item, now) {
		t.Error("containsAny should not match without intersection")
	}
	if Evaluate(cond(t, "genres", OpContainsAny, []string{}), item, now) {
		t.Error("containsAny with an empty list should never match")
	}
}

func TestEvaluate_OlderThan(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tree := cond(t, "lastWatchedAt", OpOlderThan, 90)
	tree.ValueUnit = UnitDays

	recent := now.AddDate(0, 0, -10)
	old := now.AddDate(0, 0, -120)

	item := testMovie()
	item.LastWatchedAt = &recent
	if Evaluate(tree, item, now) {
		t.Error("item watched 10 days ago should not be older than 90 days")
	}

	item.LastWatchedAt = &old
	if !Evaluate(tree, item, now) {
		t.Error("item watched 120 days ago should be older than 90 days")
	}

	item.LastWatchedAt = nil
	if !Evaluate(tree, item, now) {
		t.Error("never-watched item should always match olderThan")
	}
}

func TestEvaluate_OlderThanUnits(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tree := cond(t, "lastWatchedAt", OpOlderThan, 2)
	tree.ValueUnit = UnitMonths

	// Months normalize to fixed 30-day buckets: the cutoff is 60 days.
	watched := now.AddDate(0, 0, -59)
	item := testMovie()
	item.LastWatchedAt = &watched
	if Evaluate(tree, item, now) {
		t.Error("item watched 59 days ago should not match olderThan 2 months")
	}

	watched = now.AddDate(0, 0, -60)
	if !Evaluate(tree, item, now) {
		t.Error("item watched exactly 60 days ago should match olderThan 2 months")
	}
}

func TestEvaluate_BeforeAfter(t *testing.T) {
	now := time.Now()
	item := testMovie() // addedAt 2022-01-01

	if !Evaluate(cond(t, "addedAt", OpBefore, "2023-06-01"), item, now) {
		t.Error("addedAt 2022-01-01 should be before 2023-06-01")
	}
	if Evaluate(cond(t, "addedAt", OpAfter, "2023-06-01"), item, now) {
		t.Error("addedAt 2022-01-01 should not be after 2023-06-01")
	}

	// A missing date never satisfies an ordered comparison.
	item.LastWatchedAt = nil
	if Evaluate(cond(t, "lastWatchedAt", OpBefore, "2023-06-01"), item, now) {
		t.Error("nil lastWatchedAt should not match before")
	}
}

func TestEvaluate_ShortCircuitOrder(t *testing.T) {
	now := time.Now()
	item := testMovie()

	// The second child references a field value that does not match; AND
	// must still evaluate children in declared order and return false on
	// the first failing child.
	tree := &Node{
		Operator: GroupAnd,
		Children: []*Node{
			cond(t, "playCount", OpEquals, 99),
			cond(t, "year", OpEquals, 2019),
		},
	}
	if Evaluate(tree, item, now) {
		t.Error("AND with a failing child should not match")
	}

	tree.Operator = GroupOr
	if !Evaluate(tree, item, now) {
		t.Error("OR with a passing child should match")
	}
}

func TestEvaluate_NestedGroups(t *testing.T) {
	now := time.Now()
	item := testMovie()

	tree := &Node{
		Operator: GroupAnd,
		Children: []*Node{
			cond(t, "playCount", OpEquals, 0),
			{
				Operator: GroupOr,
				Children: []*Node{
					cond(t, "genres", OpContainsAny, []string{"Horror"}),
					cond(t, "year", OpBetween, []int64{2015, 2020}),
				},
			},
		},
	}

	if !Evaluate(tree, item, now) {
		t.Error("nested tree should match: playCount=0 and year in [2015,2020]")
	}

	item.Year = 2021
	if Evaluate(tree, item, now) {
		t.Error("nested tree should not match once the OR branch fails")
	}
}

func TestEvaluate_FlagForReviewScenario(t *testing.T) {
	// Rule: movies never played and added before 2023-06-01.
	tree := &Node{
		Operator: GroupAnd,
		Children: []*Node{
			cond(t, "playCount", OpEquals, 0),
			cond(t, "addedAt", OpBefore, "2023-06-01"),
		},
	}
	now := time.Now()

	item := testMovie()
	item.PlayCount = 0
	if !Evaluate(tree, item, now) {
		t.Error("unplayed movie added 2022-01-01 should match")
	}

	item.PlayCount = 3
	if Evaluate(tree, item, now) {
		t.Error("movie with playCount=3 should not match")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	tree := &Node{
		Operator: GroupAnd,
		Children: []*Node{
			cond(t, "playCount", OpEquals, 0),
			cond(t, "genres", OpContainsAny, []string{"Drama"}),
		},
	}
	item := testMovie()
	now := time.Now()

	first := Evaluate(tree, item, now)
	for i := 0; i < 10; i++ {
		if Evaluate(tree, item, now) != first {
			t.Fatal("Evaluate should be deterministic for fixed inputs")
		}
	}
}

func TestNormalizeUnit(t *testing.T) {
	tests := []struct {
		count int64
		unit  Unit
		want  time.Duration
	}{
		{1, UnitDays, 24 * time.Hour},
		{7, "", 7 * 24 * time.Hour},
		{1, UnitMonths, 30 * 24 * time.Hour},
		{2, UnitYears, 730 * 24 * time.Hour},
	}

	for _, tt := range tests {
		got, err := NormalizeUnit(tt.count, tt.unit)
		if err != nil {
			t.Errorf("NormalizeUnit(%d, %q) error = %v", tt.count, tt.unit, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeUnit(%d, %q) = %v, want %v", tt.count, tt.unit, got, tt.want)
		}
	}

	if _, err := NormalizeUnit(1, "weeks"); err == nil {
		t.Error("NormalizeUnit should reject unknown units")
	}
}
