package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mchestr/plex-wrapped-sub007/internal/candidates"
	"github.com/mchestr/plex-wrapped-sub007/internal/media"
	"github.com/mchestr/plex-wrapped-sub007/internal/rules"
	"github.com/mchestr/plex-wrapped-sub007/internal/testutil"
)

// fakeIterator yields a fixed item slice and optionally fails partway.
type fakeIterator struct {
	items     []*media.Item
	pos       int
	failAfter int // fail before yielding this index; <0 disables
	block     chan struct{}
}

func (it *fakeIterator) Next(ctx context.Context) (*media.Item, error) {
	if it.block != nil {
		select {
		case <-it.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if it.failAfter >= 0 && it.pos == it.failAfter {
		return nil, errors.New("plex server went away")
	}
	if it.pos >= len(it.items) {
		return nil, nil
	}
	item := it.items[it.pos]
	it.pos++
	return item, nil
}

func (it *fakeIterator) Close() error { return nil }

type fakeInventory struct {
	items     []*media.Item
	failAfter int
	listErr   error
	block     chan struct{}
}

func (f *fakeInventory) ListItems(_ context.Context, mediaType media.Type) (ItemIterator, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var filtered []*media.Item
	for _, item := range f.items {
		if item.Type == mediaType {
			filtered = append(filtered, item)
		}
	}
	failAfter := f.failAfter
	if failAfter == 0 {
		failAfter = -1
	}
	return &fakeIterator{items: filtered, failAfter: failAfter, block: f.block}, nil
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) AutoDelete(_ context.Context, item *media.Item, _ []string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, item.RatingKey)
	return nil
}

type fixture struct {
	tdb        *testutil.TestDB
	rules      *rules.Service
	candidates *candidates.Service
	inventory  *fakeInventory
	deleter    *fakeDeleter
	service    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	t.Cleanup(tdb.Close)

	f := &fixture{
		tdb:        tdb,
		rules:      rules.NewService(tdb.Conn, tdb.Logger),
		candidates: candidates.NewService(tdb.Conn, tdb.Logger),
		inventory:  &fakeInventory{},
		deleter:    &fakeDeleter{},
	}
	f.service = NewService(tdb.Conn, f.rules, f.candidates, f.inventory, f.deleter, tdb.Logger)
	return f
}

func (f *fixture) createRule(t *testing.T, name string, action rules.ActionType) *rules.Rule {
	t.Helper()
	criteria := &rules.Node{
		Operator: rules.GroupAnd,
		Children: []*rules.Node{
			{Field: "playCount", Op: rules.OpEquals, Value: json.RawMessage("0")},
		},
	}
	rule, err := f.rules.Create(context.Background(), rules.CreateInput{
		Name:       name,
		Enabled:    true,
		MediaType:  media.TypeMovie,
		ActionType: action,
		Criteria:   criteria,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func movieItem(key string, playCount int64) *media.Item {
	return &media.Item{
		RatingKey: key,
		Type:      media.TypeMovie,
		Title:     "Movie " + key,
		Year:      2020,
		PlayCount: playCount,
		FileSize:  1 << 30,
		AddedAt:   time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunScan_FlagsMatches(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "unplayed movies", rules.ActionFlagForReview)
	f.inventory.items = []*media.Item{
		movieItem("p1", 0),
		movieItem("p2", 3),
		movieItem("p3", 0),
	}

	scan, err := f.service.RunScan(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}

	if scan.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q (error: %s)", scan.Status, StatusCompleted, scan.Error)
	}
	if scan.ItemsScanned != 3 {
		t.Errorf("ItemsScanned = %d, want 3", scan.ItemsScanned)
	}
	if scan.ItemsFlagged != 2 {
		t.Errorf("ItemsFlagged = %d, want 2", scan.ItemsFlagged)
	}
	if scan.StartedAt == nil || scan.CompletedAt == nil {
		t.Error("terminal scan should have startedAt and completedAt")
	}

	resp, err := f.candidates.List(context.Background(), candidates.ListOptions{ScanID: scan.ID})
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("got %d candidates, want 2", len(resp.Items))
	}
	for _, cand := range resp.Items {
		if cand.ReviewStatus != candidates.StatusPending {
			t.Errorf("candidate %s status = %q, want pending", cand.PlexRatingKey, cand.ReviewStatus)
		}
		if len(cand.MatchedRules) != 1 || cand.MatchedRules[0] != "unplayed movies" {
			t.Errorf("candidate %s matchedRules = %v", cand.PlexRatingKey, cand.MatchedRules)
		}
	}
}

func TestRunScan_NoMatchesNoCandidates(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "unplayed movies", rules.ActionFlagForReview)
	f.inventory.items = []*media.Item{movieItem("p1", 3)}

	scan, err := f.service.RunScan(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}
	if scan.ItemsFlagged != 0 {
		t.Errorf("ItemsFlagged = %d, want 0", scan.ItemsFlagged)
	}

	resp, _ := f.candidates.List(context.Background(), candidates.ListOptions{ScanID: scan.ID})
	if len(resp.Items) != 0 {
		t.Errorf("got %d candidates, want 0", len(resp.Items))
	}
}

func TestRunScan_TwoRunsTwoScanRows(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "unplayed movies", rules.ActionFlagForReview)
	f.inventory.items = []*media.Item{movieItem("p1", 0)}

	first, err := f.service.RunScan(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}
	second, err := f.service.RunScan(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}
	if first.ID == second.ID {
		t.Error("two runs of one rule must produce two distinct scan rows")
	}

	resp, _ := f.service.List(context.Background(), ListOptions{RuleID: rule.ID})
	if resp.TotalCount != 2 {
		t.Errorf("scan count = %d, want 2", resp.TotalCount)
	}
}

func TestRunScan_InventoryFailureKeepsPartialCounts(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "unplayed movies", rules.ActionFlagForReview)
	f.inventory.items = []*media.Item{
		movieItem("p1", 0),
		movieItem("p2", 0),
		movieItem("p3", 0),
	}
	f.inventory.failAfter = 2 // fail after two items were yielded

	scan, err := f.service.RunScan(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}

	if scan.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", scan.Status, StatusFailed)
	}
	if scan.Error == "" {
		t.Error("failed scan should carry the inventory error")
	}
	if scan.ItemsScanned != 2 || scan.ItemsFlagged != 2 {
		t.Errorf("partial counts = %d/%d, want 2/2", scan.ItemsScanned, scan.ItemsFlagged)
	}
}

func TestRunScan_ListFailure(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "unplayed movies", rules.ActionFlagForReview)
	f.inventory.listErr = errors.New("connection refused")

	scan, err := f.service.RunScan(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}
	if scan.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", scan.Status, StatusFailed)
	}
}

func TestRunScan_DisabledRule(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "off", rules.ActionFlagForReview)
	enabled := false
	if _, err := f.rules.Update(context.Background(), rule.ID, rules.UpdateInput{Enabled: &enabled}); err != nil {
		t.Fatalf("disable rule: %v", err)
	}

	if _, err := f.service.RunScan(context.Background(), rule.ID); !errors.Is(err, ErrRuleDisabled) {
		t.Errorf("RunScan() error = %v, want ErrRuleDisabled", err)
	}
}

func TestRunScan_AutoDelete(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "purge unplayed", rules.ActionAutoDelete)
	f.inventory.items = []*media.Item{
		movieItem("p1", 0),
		movieItem("p2", 5),
	}

	scan, err := f.service.RunScan(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}

	if scan.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", scan.Status, StatusCompleted)
	}
	if len(f.deleter.deleted) != 1 || f.deleter.deleted[0] != "p1" {
		t.Errorf("deleted = %v, want [p1]", f.deleter.deleted)
	}

	// Auto-delete matches never become reviewable candidates.
	resp, _ := f.candidates.List(context.Background(), candidates.ListOptions{ScanID: scan.ID})
	if len(resp.Items) != 0 {
		t.Errorf("got %d candidates, want 0", len(resp.Items))
	}
}

func TestRunScan_AutoDeleteFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "purge unplayed", rules.ActionAutoDelete)
	f.inventory.items = []*media.Item{movieItem("p1", 0), movieItem("p2", 0)}
	f.deleter.err = errors.New("deletion disabled on server")

	scan, err := f.service.RunScan(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}
	if scan.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", scan.Status, StatusCompleted)
	}
	if scan.ItemsScanned != 2 {
		t.Errorf("ItemsScanned = %d, want 2", scan.ItemsScanned)
	}
	// Failed deletions are not counted as flagged.
	if scan.ItemsFlagged != 0 {
		t.Errorf("ItemsFlagged = %d, want 0", scan.ItemsFlagged)
	}
}

func TestRunScan_IncompatibleCriteriaFailsScan(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "edited badly", rules.ActionFlagForReview)

	// Corrupt the stored criteria behind the validator's back, simulating
	// a rule edited into a shape the evaluator cannot compile.
	bad := `{"field":"bitrate","op":"between","value":[0,100]}`
	if _, err := f.tdb.Conn.Exec("UPDATE rules SET media_type = 'tv_series', criteria = ? WHERE id = ?", bad, rule.ID); err != nil {
		t.Fatalf("corrupt rule: %v", err)
	}

	scan, err := f.service.RunScan(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}
	if scan.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", scan.Status, StatusFailed)
	}
	if scan.Error == "" {
		t.Error("failed scan should carry the validation error")
	}
}

func TestScan_CancelBetweenItems(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "slow scan", rules.ActionFlagForReview)

	block := make(chan struct{})
	f.inventory.block = block
	f.inventory.items = []*media.Item{movieItem("p1", 0), movieItem("p2", 0)}

	scan, err := f.service.Start(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Let the first item through, then cancel while the iterator blocks.
	block <- struct{}{}
	if err := f.service.Cancel(scan.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, err := f.service.Get(context.Background(), scan.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status == StatusFailed {
			if got.Error != "scan cancelled" {
				t.Errorf("Error = %q, want %q", got.Error, "scan cancelled")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("scan never reached failed state, status = %q", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScan_SingleFlightPerRule(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "long running", rules.ActionFlagForReview)

	block := make(chan struct{})
	f.inventory.block = block
	f.inventory.items = []*media.Item{movieItem("p1", 0)}

	scan, err := f.service.Start(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := f.service.Start(context.Background(), rule.ID); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("second Start() error = %v, want ErrScanInProgress", err)
	}

	close(block)

	deadline := time.After(5 * time.Second)
	for {
		got, _ := f.service.Get(context.Background(), scan.ID)
		if got != nil && (got.Status == StatusCompleted || got.Status == StatusFailed) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scan never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunScan_RescanUpsertsNotDuplicates(t *testing.T) {
	f := newFixture(t)
	first := f.createRule(t, "rule A", rules.ActionFlagForReview)
	f.inventory.items = []*media.Item{movieItem("p1", 0)}

	scanA, err := f.service.RunScan(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}

	// Direct upsert into the same scan simulates a second matching rule in
	// a future scan-set; exactly one candidate remains with merged names.
	if _, err := f.candidates.UpsertMatch(context.Background(), scanA.ID, movieItem("p1", 0), "rule B"); err != nil {
		t.Fatalf("UpsertMatch() error = %v", err)
	}

	resp, _ := f.candidates.List(context.Background(), candidates.ListOptions{ScanID: scanA.ID})
	if len(resp.Items) != 1 {
		t.Fatalf("got %d candidates, want 1", len(resp.Items))
	}
	want := fmt.Sprintf("%v", []string{"rule A", "rule B"})
	if got := fmt.Sprintf("%v", resp.Items[0].MatchedRules); got != want {
		t.Errorf("MatchedRules = %s, want %s", got, want)
	}
}
