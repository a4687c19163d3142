package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	cl "colonywars/internal/cli"
	"colonywars/internal/game"
	"colonywars/internal/ledger"
	"colonywars/internal/syncq"

	tea "github.com/charmbracelet/bubbletea"
)

func TestParseTokenRef(t *testing.T) {
	coll := ledger.NameID("collection", "0xabc")
	ref, err := parseTokenRef(coll.String() + ":42")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ref.Collection != coll || ref.TokenID != 42 {
		t.Fatalf("unexpected ref %+v", ref)
	}
	ref, err = parseTokenRef("0xABC:7")
	if err != nil {
		t.Fatalf("parse contract form: %v", err)
	}
	if ref.Collection != game.CollectionID("0xabc") || ref.TokenID != 7 {
		t.Fatalf("contract form resolved to %+v", ref)
	}
	for _, bad := range []string{"nocolon", "0xabc:-1", "0xabc:x"} {
		if _, err := parseTokenRef(bad); err == nil {
			t.Fatalf("parseTokenRef(%q) should fail", bad)
		}
	}
}

func TestColonyArgFallsBackToPrimary(t *testing.T) {
	primary := ledger.NameID("colony", "home")
	prof := cl.Profile{Address: "alice", PrimaryColony: primary}

	got, err := colonyArg(nil, 0, prof)
	if err != nil || got != primary {
		t.Fatalf("fallback = %s, %v", got, err)
	}
	got, err = colonyArg([]string{"away"}, 0, prof)
	if err != nil || got != ledger.NameID("colony", "away") {
		t.Fatalf("explicit = %s, %v", got, err)
	}
	if _, err := colonyArg(nil, 0, cl.Profile{Address: "bob"}); err == nil {
		t.Fatalf("missing primary should error")
	}
}

func TestQueueOnNetworkError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	apiErr := &cl.APIError{Status: 403, Message: "not the leader"}
	if err := queueOnNetworkError(apiErr, syncq.Command{Path: "/v1/alliance/aid"}); !errors.Is(err, apiErr) {
		t.Fatalf("api errors must pass through, got %v", err)
	}
	if err := queueOnNetworkError(errors.New("connection refused"), syncq.Command{Method: "POST", Path: "/v1/alliance/contribute", Caller: "alice"}); err != nil {
		t.Fatalf("network errors should be queued, got %v", err)
	}
	queued, err := syncq.Load()
	if err != nil {
		t.Fatalf("load queue: %v", err)
	}
	if len(queued) != 1 || queued[0].Path != "/v1/alliance/contribute" {
		t.Fatalf("unexpected queue %+v", queued)
	}
}

func TestCommaAndTruncate(t *testing.T) {
	tests := map[int64]string{0: "0", 999: "999", 1000: "1,000", -1234567: "-1,234,567"}
	for in, want := range tests {
		if got := comma(in); got != want {
			t.Fatalf("comma(%d) = %q, want %q", in, got, want)
		}
	}
	if got := truncate("betrayal recorded", 10); got != "betraya..." {
		t.Fatalf("truncate = %q", got)
	}
}

type fakeSource struct {
	overview game.StrategicOverview
	events   []ledger.Event
	err      error
	afters   []uint64
}

func (f *fakeSource) Overview(context.Context, ledger.ID) (game.StrategicOverview, error) {
	return f.overview, f.err
}

func (f *fakeSource) Events(_ context.Context, after uint64, _ int) (cl.EventPage, error) {
	f.afters = append(f.afters, after)
	var out []ledger.Event
	for _, ev := range f.events {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	var last uint64
	if n := len(f.events); n > 0 {
		last = f.events[n-1].Seq
	}
	return cl.EventPage{Events: out, LastSeq: last}, f.err
}

func TestWatchModelRefresh(t *testing.T) {
	colony := ledger.NameID("colony", "alpha")
	src := &fakeSource{
		overview: game.StrategicOverview{Colony: colony, Season: 3, Threat: game.ThreatCritical, IncomingAttacks: 1},
		events: []ledger.Event{
			{Seq: 1, Type: ledger.EventColonyRegistered, Colony: colony},
			{Seq: 2, Type: ledger.EventBattleDeclared, Colony: colony},
		},
	}
	m := newWatchModel(context.Background(), src, colony, time.Second)

	msg := m.refresh()()
	next, cmd := m.Update(msg)
	m = next.(watchModel)
	if cmd == nil {
		t.Fatalf("refresh should schedule the next poll")
	}
	if m.loading || m.lastSeq != 2 || len(m.feed) != 2 {
		t.Fatalf("unexpected model after refresh: loading=%v seq=%d feed=%d", m.loading, m.lastSeq, len(m.feed))
	}
	view := m.View()
	if !strings.Contains(view, "CRITICAL") || !strings.Contains(view, string(ledger.EventBattleDeclared)) {
		t.Fatalf("view missing threat or feed:\n%s", view)
	}

	m.Update(m.refresh()())
	if got := src.afters[len(src.afters)-1]; got != 2 {
		t.Fatalf("second poll asked for events after %d, want 2", got)
	}

	src.err = errors.New("api down")
	next, _ = m.Update(m.refresh()())
	m = next.(watchModel)
	if m.err == nil || m.lastSeq != 2 {
		t.Fatalf("failed refresh should keep state and surface the error")
	}
	if !strings.Contains(m.View(), "api down") {
		t.Fatalf("view should show the error")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatalf("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("q should produce a quit message")
	}
}

func TestAppendFeedKeepsNewest(t *testing.T) {
	var feed []ledger.Event
	for i := uint64(1); i <= 5; i++ {
		feed = appendFeed(feed, []ledger.Event{{Seq: i}}, 3)
	}
	if len(feed) != 3 || feed[0].Seq != 3 || feed[2].Seq != 5 {
		t.Fatalf("feed = %+v", feed)
	}
}
