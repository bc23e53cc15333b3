package history

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tomgalvin.uk/luckprint/internal/printer"
)

func openTestRepository(t *testing.T) *Repository {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndList(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()

	printed := printer.NewTextJob("hello")
	if err := r.Record(ctx, printed, printer.Result{JobID: printed.ID, Outcome: printer.Accepted}); err != nil {
		t.Fatal(err)
	}
	failed := printer.NewImageJob("/tmp/fox.png")
	if err := r.Record(ctx, failed, printer.Result{JobID: failed.ID, Outcome: printer.Rejected, Err: printer.ErrLinkFaulted}); err != nil {
		t.Fatal(err)
	}

	entries, err := r.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expecting 2 entries, got %d", len(entries))
	}

	latest := entries[0]
	if latest.JobID != failed.ID || latest.Kind != "image" || latest.Content != "/tmp/fox.png" {
		t.Errorf("Unexpected latest entry %+v", latest)
	}
	if latest.Outcome != "rejected" || latest.Error != printer.ErrLinkFaulted.Error() {
		t.Errorf("Unexpected outcome %s / %s", latest.Outcome, latest.Error)
	}
	if entries[1].Content != "hello" || entries[1].Outcome != "accepted" || entries[1].Error != "" {
		t.Errorf("Unexpected entry %+v", entries[1])
	}
	if entries[1].SubmittedAt.UnixMilli() != printed.SubmittedAt.UnixMilli() {
		t.Errorf("Submission time not preserved")
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "history.db")
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	j := printer.NewTextJob("hello")
	if err := r.Record(context.Background(), j, printer.Result{JobID: j.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Database file not created: %v", err)
	}
}

func TestListLimit(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()
	for range 5 {
		j := printer.NewTextJob("x")
		r.Record(ctx, j, printer.Result{JobID: j.ID})
	}

	entries, err := r.List(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("Expecting 3 entries, got %d", len(entries))
	}
}

func TestLongTextIsTruncated(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()
	j := printer.NewTextJob(strings.Repeat("字", 500))
	if err := r.Record(ctx, j, printer.Result{JobID: j.ID}); err != nil {
		t.Fatal(err)
	}

	entries, _ := r.List(ctx, 1)
	if n := len([]rune(entries[0].Content)); n != maxContentRunes {
		t.Errorf("Stored %d runes, expecting %d", n, maxContentRunes)
	}
}

func TestPrune(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()
	for range 3 {
		j := printer.NewTextJob("x")
		r.Record(ctx, j, printer.Result{JobID: j.ID})
	}

	deleted, err := r.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 3 {
		t.Errorf("Expecting 3 deleted, got %d", deleted)
	}
}

func TestTransactRollsBack(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()
	j := printer.NewTextJob("x")
	r.Record(ctx, j, printer.Result{JobID: j.ID})

	boom := errors.New("boom")
	err := r.Transact(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM print_job`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expecting the function's error back, got %v", err)
	}

	entries, _ := r.List(ctx, 10)
	if len(entries) != 1 {
		t.Errorf("Delete should have been rolled back, %d entries left", len(entries))
	}
}
