package ledger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(opts ...Option) *Store {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewStore(DefaultConfig(), opts...)
}

func mustEncode(t *testing.T, s *Store) []byte {
	t.Helper()
	data, err := EncodeSnapshot(s.Export())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func seedAlliance(t *testing.T, s *Store) ID {
	t.Helper()
	id := NameID("alliance", "north")
	err := s.Update(context.Background(), func(tx *Tx) error {
		season := tx.AppendSeason(Season{StartTime: testNow, RegistrationEnd: testNow.Add(time.Hour)})
		colony := NameID("colony", "alpha")
		if err := tx.RegisterColony(ColonyWarProfile{Colony: colony, Season: season.ID, Owner: "alice", DefensiveStake: 1000}); err != nil {
			return err
		}
		if err := tx.CreateAlliance(Alliance{ID: id, Name: "North", LeaderColony: colony, StabilityIndex: 100, Active: true}); err != nil {
			return err
		}
		return tx.AddAllianceMember(id, "alice", colony)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return id
}

func TestUpdateRejectsReentrantCall(t *testing.T) {
	s := newTestStore()
	var inner error
	err := s.Update(context.Background(), func(tx *Tx) error {
		if !s.Busy() {
			t.Fatalf("expected store to report busy inside update")
		}
		inner = s.Update(tx.Context(), func(*Tx) error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("outer update: %v", err)
	}
	if !errors.Is(inner, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", inner)
	}
	if s.Busy() {
		t.Fatalf("flag must be cleared after update")
	}
	if err := s.View(context.Background(), func(*Tx) error { return nil }); err != nil {
		t.Fatalf("view after update: %v", err)
	}
}

func TestFailedUpdateLeavesLedgerUntouched(t *testing.T) {
	s := newTestStore()
	seedAlliance(t, s)
	before := mustEncode(t, s)
	lastSeq := s.LastSeq()

	boom := errors.New("boom")
	compensated := 0
	err := s.Update(context.Background(), func(tx *Tx) error {
		tx.OnRollback(func(context.Context) { compensated++ })
		a, _ := tx.Alliance(NameID("alliance", "north"))
		a.StabilityIndex = 0
		a.SharedTreasury = 999
		if err := tx.PutAlliance(a); err != nil {
			return err
		}
		tx.SetLastBetrayal(NameID("colony", "alpha"), tx.Now())
		tx.Emit(Event{Type: EventBetrayalRecorded})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if compensated != 1 {
		t.Fatalf("expected one compensation, got %d", compensated)
	}
	if after := mustEncode(t, s); !bytes.Equal(before, after) {
		t.Fatalf("ledger changed after failed update")
	}
	if s.LastSeq() != lastSeq {
		t.Fatalf("events leaked from failed update")
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Record(context.Context, Batch) error {
	f.calls++
	return errors.New("journal down")
}

func TestSinkErrorAbortsCommit(t *testing.T) {
	sink := &failingSink{}
	s := newTestStore(WithSink(sink))
	err := s.Update(context.Background(), func(tx *Tx) error {
		tx.AppendSeason(Season{StartTime: testNow})
		tx.Emit(Event{Type: EventSeasonStarted})
		return nil
	})
	if err == nil {
		t.Fatalf("expected sink error")
	}
	if sink.calls != 1 {
		t.Fatalf("sink calls = %d", sink.calls)
	}
	_ = s.View(context.Background(), func(tx *Tx) error {
		if _, ok := tx.CurrentSeason(); ok {
			t.Fatalf("season committed despite sink failure")
		}
		return nil
	})
}

type recordingSink struct{ batches []Batch }

func (r *recordingSink) Record(_ context.Context, b Batch) error {
	r.batches = append(r.batches, b)
	return nil
}

func TestCommitSnapshotsTravelWithTheBatch(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStore(WithSink(sink), WithCommitSnapshots())
	err := s.Update(context.Background(), func(tx *Tx) error {
		tx.AppendSeason(Season{StartTime: testNow})
		tx.Emit(Event{Type: EventSeasonStarted})
		tx.Emit(Event{Type: EventConfigChanged})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(sink.batches) != 1 || sink.batches[0].State == nil {
		t.Fatalf("batch carried no state: %+v", sink.batches)
	}
	state := *sink.batches[0].State
	if state.Seq != 2 || len(state.Seasons) != 1 {
		t.Fatalf("state seq = %d seasons = %d", state.Seq, len(state.Seasons))
	}
	got, err := EncodeSnapshot(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(got, mustEncode(t, s)) {
		t.Fatalf("batch state differs from the committed ledger")
	}

	plain := &recordingSink{}
	p := newTestStore(WithSink(plain))
	if err := p.Update(context.Background(), func(tx *Tx) error {
		tx.Emit(Event{Type: EventConfigChanged})
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(plain.batches) != 1 || plain.batches[0].State != nil {
		t.Fatalf("state attached without WithCommitSnapshots")
	}
}

func TestEventsAreSequenced(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 3; i++ {
		err := s.Update(context.Background(), func(tx *Tx) error {
			tx.Emit(Event{Type: EventConfigChanged})
			tx.Emit(Event{Type: EventConfigChanged})
			return nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	events := s.Events(2, 0)
	if len(events) != 4 {
		t.Fatalf("expected 4 events after seq 2, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+3) {
			t.Fatalf("event %d seq = %d", i, ev.Seq)
		}
		if !ev.At.Equal(testNow) {
			t.Fatalf("event time not stamped")
		}
	}
	if got := s.Events(0, 2); len(got) != 2 {
		t.Fatalf("limit not applied: %d", len(got))
	}
}

func TestAddAllianceMemberInvariants(t *testing.T) {
	s := newTestStore()
	id := seedAlliance(t, s)

	cfg := DefaultConfig()
	cfg.MaxAllianceMembers = 2

	err := s.Update(context.Background(), func(tx *Tx) error {
		tx.SetConfig(cfg)
		if err := tx.AddAllianceMember(id, "alice", NameID("colony", "other")); !errors.Is(err, ErrAlreadyInAlliance) {
			t.Fatalf("duplicate address: got %v", err)
		}
		if err := tx.AddAllianceMember(id, "bob", NameID("colony", "alpha")); !errors.Is(err, ErrAlreadyInAlliance) {
			t.Fatalf("duplicate colony: got %v", err)
		}
		if err := tx.AddAllianceMember(id, "bob", NameID("colony", "beta")); err != nil {
			t.Fatalf("add bob: %v", err)
		}
		if err := tx.AddAllianceMember(id, "carol", NameID("colony", "gamma")); !errors.Is(err, ErrAllianceFull) {
			t.Fatalf("capacity: got %v", err)
		}
		a, _ := tx.Alliance(id)
		if len(a.Members) != 2 {
			t.Fatalf("members = %v", a.Members)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestRemoveAllianceMemberClearsIndices(t *testing.T) {
	s := newTestStore()
	id := seedAlliance(t, s)
	colony := NameID("colony", "alpha")
	err := s.Update(context.Background(), func(tx *Tx) error {
		got, err := tx.RemoveAllianceMember(id, "alice")
		if err != nil {
			return err
		}
		if got != colony {
			t.Fatalf("removed colony = %s", got.Short())
		}
		if _, ok := tx.AllianceOfAddress("alice"); ok {
			t.Fatalf("address index not cleared")
		}
		if _, ok := tx.AllianceOfColony(colony); ok {
			t.Fatalf("colony index not cleared")
		}
		if _, ok := tx.MemberColony("alice"); ok {
			t.Fatalf("member colony not cleared")
		}
		if _, err := tx.RemoveAllianceMember(id, "alice"); !errors.Is(err, ErrNotMember) {
			t.Fatalf("second removal: got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestDeactivatedAllianceReleasesName(t *testing.T) {
	s := newTestStore()
	id := seedAlliance(t, s)
	err := s.Update(context.Background(), func(tx *Tx) error {
		a, _ := tx.Alliance(id)
		a.Active = false
		if err := tx.PutAlliance(a); err != nil {
			return err
		}
		if _, ok := tx.AllianceByName("NORTH"); ok {
			t.Fatalf("name still reserved")
		}
		return tx.CreateAlliance(Alliance{ID: NameID("alliance", "north-2"), Name: "north", Active: true})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestTerritoryControllerIndex(t *testing.T) {
	s := newTestStore()
	a, b := NameID("colony", "a"), NameID("colony", "b")
	terr := NameID("territory", "1")
	err := s.Update(context.Background(), func(tx *Tx) error {
		tx.PutTerritory(Territory{ID: terr, Active: true})
		if err := tx.SetTerritoryController(terr, a); err != nil {
			return err
		}
		if err := tx.SetTerritoryController(terr, b); err != nil {
			return err
		}
		if len(tx.TerritoriesOf(a)) != 0 {
			t.Fatalf("previous controller still indexed")
		}
		got := tx.TerritoriesOf(b)
		if len(got) != 1 || got[0].ControllingColony != b {
			t.Fatalf("new controller index = %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestViewIsReadOnly(t *testing.T) {
	s := newTestStore()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on write inside view")
		}
	}()
	_ = s.View(context.Background(), func(tx *Tx) error {
		tx.SetConfig(DefaultConfig())
		return nil
	})
}
