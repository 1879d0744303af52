package rules

import (
	"strings"
	"testing"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

func TestValidate_NilTree(t *testing.T) {
	errs := Validate(nil, media.TypeMovie)
	if len(errs) != 1 {
		t.Fatalf("Validate(nil) returned %d errors, want 1", len(errs))
	}
	if errs[0].Path != "criteria" {
		t.Errorf("error path = %q, want %q", errs[0].Path, "criteria")
	}
}

func TestValidate_UnknownField(t *testing.T) {
	tree := cond(t, "codec", OpEquals, "h264")
	errs := Validate(tree, media.TypeMovie)
	if len(errs) != 1 {
		t.Fatalf("Validate returned %d errors, want 1", len(errs))
	}
	if !strings.Contains(errs[0].Message, "unknown field") {
		t.Errorf("message = %q, want mention of unknown field", errs[0].Message)
	}
}

func TestValidate_OperatorFieldMismatch(t *testing.T) {
	// containsAny only applies to list fields.
	tree := cond(t, "playCount", OpContainsAny, []string{"0"})
	if errs := Validate(tree, media.TypeMovie); len(errs) == 0 {
		t.Error("containsAny on playCount should fail validation")
	}

	// before requires a date field.
	tree = cond(t, "fileSize", OpBefore, "2023-01-01")
	if errs := Validate(tree, media.TypeMovie); len(errs) == 0 {
		t.Error("before on fileSize should fail validation")
	}
}

func TestValidate_MediaTypeApplicability(t *testing.T) {
	// bitrate applies to movies and episodes, not series containers.
	tree := cond(t, "bitrate", OpBetween, []int64{0, 4000})

	if errs := Validate(tree, media.TypeMovie); len(errs) != 0 {
		t.Errorf("bitrate on movie should validate, got %v", errs)
	}
	if errs := Validate(tree, media.TypeTVSeries); len(errs) == 0 {
		t.Error("bitrate on tv_series should fail validation")
	}
}

func TestValidate_ValueArity(t *testing.T) {
	tests := []struct {
		name string
		tree *Node
	}{
		{"between with scalar", cond(t, "fileSize", OpBetween, 5)},
		{"between with three bounds", cond(t, "fileSize", OpBetween, []int64{1, 2, 3})},
		{"between with min above max", cond(t, "fileSize", OpBetween, []int64{10, 5})},
		{"equals with list", cond(t, "playCount", OpEquals, []int64{1, 2})},
		{"containsAny with scalar", cond(t, "genres", OpContainsAny, "Drama")},
		{"before with number", cond(t, "addedAt", OpBefore, 20230601)},
		{"olderThan with negative count", cond(t, "lastWatchedAt", OpOlderThan, -5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errs := Validate(tt.tree, media.TypeMovie); len(errs) == 0 {
				t.Error("expected validation error, got none")
			}
		})
	}
}

func TestValidate_ValueUnit(t *testing.T) {
	tree := cond(t, "lastWatchedAt", OpOlderThan, 6)
	tree.ValueUnit = UnitMonths
	if errs := Validate(tree, media.TypeMovie); len(errs) != 0 {
		t.Errorf("olderThan with months should validate, got %v", errs)
	}

	tree.ValueUnit = "weeks"
	if errs := Validate(tree, media.TypeMovie); len(errs) == 0 {
		t.Error("olderThan with unknown unit should fail validation")
	}

	// valueUnit is meaningless outside olderThan.
	tree = cond(t, "playCount", OpEquals, 0)
	tree.ValueUnit = UnitDays
	if errs := Validate(tree, media.TypeMovie); len(errs) == 0 {
		t.Error("valueUnit on equals should fail validation")
	}
}

func TestValidate_AmbiguousNode(t *testing.T) {
	// A node that is both a group and a condition is rejected.
	tree := cond(t, "playCount", OpEquals, 0)
	tree.Operator = GroupAnd
	if errs := Validate(tree, media.TypeMovie); len(errs) == 0 {
		t.Error("node with both operator and field should fail validation")
	}

	// So is a node that is neither.
	if errs := Validate(&Node{}, media.TypeMovie); len(errs) == 0 {
		t.Error("empty node should fail validation")
	}
}

func TestValidate_ErrorPathsPointAtNodes(t *testing.T) {
	tree := &Node{
		Operator: GroupAnd,
		Children: []*Node{
			cond(t, "playCount", OpEquals, 0),
			{
				Operator: GroupOr,
				Children: []*Node{
					cond(t, "nonsense", OpEquals, 1),
				},
			},
		},
	}

	errs := Validate(tree, media.TypeMovie)
	if len(errs) != 1 {
		t.Fatalf("Validate returned %d errors, want 1", len(errs))
	}
	want := "criteria.children[1].children[0]"
	if errs[0].Path != want {
		t.Errorf("error path = %q, want %q", errs[0].Path, want)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	tree := &Node{
		Operator: GroupAnd,
		Children: []*Node{
			cond(t, "bogus", OpEquals, 1),
			cond(t, "alsoBogus", OpEquals, 2),
		},
	}

	errs := Validate(tree, media.TypeMovie)
	if len(errs) != 2 {
		t.Errorf("Validate returned %d errors, want 2", len(errs))
	}
}

func TestCompile_ReusableMatcher(t *testing.T) {
	tree := &Node{
		Operator: GroupAnd,
		Children: []*Node{
			cond(t, "playCount", OpEquals, 0),
		},
	}

	m, errs := Compile(tree, media.TypeMovie)
	if len(errs) != 0 {
		t.Fatalf("Compile error = %v", errs)
	}

	item := testMovie()
	if !m.Match(item, item.AddedAt) {
		t.Error("compiled matcher should match unplayed movie")
	}

	item.PlayCount = 1
	if m.Match(item, item.AddedAt) {
		t.Error("compiled matcher should not match played movie")
	}
}
