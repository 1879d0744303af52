package defaults

import (
	"context"
	"testing"

	"github.com/mchestr/plex-wrapped-sub007/internal/rules"
	"github.com/mchestr/plex-wrapped-sub007/internal/testutil"
)

func TestLoad(t *testing.T) {
	inputs, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(inputs) == 0 {
		t.Fatal("Load() returned no starter rules")
	}

	for _, input := range inputs {
		if input.Enabled {
			t.Errorf("starter rule %q must ship disabled", input.Name)
		}
		if verrs := rules.Validate(input.Criteria, input.MediaType); len(verrs) > 0 {
			t.Errorf("starter rule %q does not validate: %v", input.Name, verrs)
		}
	}
}

func TestSeed(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	ruleService := rules.NewService(tdb.Conn, tdb.Logger)
	service := NewService(tdb.Conn, ruleService, tdb.Logger)

	if err := service.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	seeded, err := ruleService.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(seeded) == 0 {
		t.Fatal("Seed() created no rules")
	}

	// A user deleting a starter rule must not see it return.
	if err := ruleService.Delete(ctx, seeded[0].ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := service.Seed(ctx); err != nil {
		t.Fatalf("second Seed() error = %v", err)
	}

	after, _ := ruleService.List(ctx)
	if len(after) != len(seeded)-1 {
		t.Errorf("got %d rules after reseed, want %d", len(after), len(seeded)-1)
	}
}
