package persistence

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"colonywars/internal/ledger"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "wars.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newStore(db *DB) *ledger.Store {
	return ledger.NewStore(ledger.DefaultConfig(),
		ledger.WithClock(func() time.Time { return testNow }),
		ledger.WithSink(db),
	)
}

func TestJournalRecordsCommittedEvents(t *testing.T) {
	db := openTestDB(t)
	store := newStore(db)
	ctx := context.Background()
	colony := ledger.NameID("colony", "alpha")

	err := store.Update(ctx, func(tx *ledger.Tx) error {
		tx.Emit(ledger.Event{Type: ledger.EventColonyRegistered, Colony: colony, Actor: "alice", Data: map[string]any{"stake": 1000}})
		tx.Emit(ledger.Event{Type: ledger.EventConfigChanged})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	err = store.Update(ctx, func(tx *ledger.Tx) error {
		tx.Emit(ledger.Event{Type: ledger.EventConfigChanged})
		return context.Canceled
	})
	if err == nil {
		t.Fatalf("expected failed update")
	}

	events, err := db.Events(ctx, 0, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("journaled %d events, want 2", len(events))
	}
	first := events[0]
	if first.Seq != 1 || first.Type != ledger.EventColonyRegistered || first.Colony != colony || first.Actor != "alice" {
		t.Fatalf("unexpected event %+v", first)
	}
	if !first.At.Equal(testNow) || !first.Alliance.IsZero() {
		t.Fatalf("unexpected event fields %+v", first)
	}
	if stake, ok := first.Data["stake"].(float64); !ok || stake != 1000 {
		t.Fatalf("event data = %v", first.Data)
	}
	if events[1].Data != nil {
		t.Fatalf("empty data should stay nil")
	}

	after, err := db.Events(ctx, 1, 10)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(after) != 1 || after[0].Seq != 2 {
		t.Fatalf("unexpected events after seq 1: %+v", after)
	}
}

func TestDuplicateSequenceAbortsCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := newStore(db)
	if err := store.Update(ctx, func(tx *ledger.Tx) error {
		tx.Emit(ledger.Event{Type: ledger.EventConfigChanged})
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A second store starts its sequence at zero and collides with the journal.
	fresh := newStore(db)
	err := fresh.Update(ctx, func(tx *ledger.Tx) error {
		tx.Emit(ledger.Event{Type: ledger.EventConfigChanged})
		return nil
	})
	if err == nil {
		t.Fatalf("expected sink failure to abort the commit")
	}
	if fresh.LastSeq() != 0 {
		t.Fatalf("aborted commit advanced the sequence")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.LatestSnapshot(ctx); err != nil || ok {
		t.Fatalf("empty db: ok=%v err=%v", ok, err)
	}

	store := newStore(db)
	if err := store.Update(ctx, func(tx *ledger.Tx) error {
		tx.AppendSeason(ledger.Season{StartTime: testNow, RegistrationEnd: testNow.Add(time.Hour)})
		tx.Emit(ledger.Event{Type: ledger.EventSeasonStarted, Season: 1})
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := db.SaveSnapshot(ctx, ledger.Snapshot{Version: 1}); err != nil {
		t.Fatalf("save old snapshot: %v", err)
	}
	if err := db.SaveSnapshot(ctx, store.Export()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	snap, ok, err := db.LatestSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	restored := ledger.NewStore(ledger.DefaultConfig())
	if err := restored.Import(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	want, _ := ledger.EncodeSnapshot(store.Export())
	got, _ := ledger.EncodeSnapshot(restored.Export())
	if !bytes.Equal(want, got) {
		t.Fatalf("restored ledger differs")
	}
	if restored.LastSeq() != 1 {
		t.Fatalf("restored seq = %d", restored.LastSeq())
	}

	if err := db.PruneSnapshots(ctx, 1); err != nil {
		t.Fatalf("prune: %v", err)
	}
	var count int
	if err := db.conn.Get(&count, "SELECT COUNT(1) FROM snapshots"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("snapshots after prune = %d", count)
	}
}

func TestCommitSnapshotsMakeRestartLossless(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := ledger.NewStore(ledger.DefaultConfig(),
		ledger.WithClock(func() time.Time { return testNow }),
		ledger.WithSink(db),
		ledger.WithCommitSnapshots(),
	)
	for i := 0; i < 3; i++ {
		if err := store.Update(ctx, func(tx *ledger.Tx) error {
			tx.Emit(ledger.Event{Type: ledger.EventConfigChanged})
			return nil
		}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	snap, ok, err := db.LatestSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if snap.Seq != store.LastSeq() {
		t.Fatalf("snapshot seq = %d, ledger seq = %d", snap.Seq, store.LastSeq())
	}

	restarted := newStore(db)
	if err := restarted.Import(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := restarted.Update(ctx, func(tx *ledger.Tx) error {
		tx.Emit(ledger.Event{Type: ledger.EventConfigChanged})
		return nil
	}); err != nil {
		t.Fatalf("commit after restart: %v", err)
	}
	if restarted.LastSeq() != 4 {
		t.Fatalf("seq after restart = %d", restarted.LastSeq())
	}
}

func TestLatestSnapshotDetectsCorruption(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.SaveSnapshot(ctx, ledger.Snapshot{Version: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := db.conn.Exec("UPDATE snapshots SET checksum = 'bogus'"); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, _, err := db.LatestSnapshot(ctx); err == nil {
		t.Fatalf("expected checksum mismatch")
	}
}
