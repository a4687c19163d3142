package game

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"colonywars/internal/ledger"
	"colonywars/internal/oracle"
)

const admin ledger.Address = "admin"

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	registrationWindow = 48 * time.Hour
	warfareWindow      = 10 * 24 * time.Hour
	resolutionWindow   = 48 * time.Hour
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	now   time.Time
	store *ledger.Store
	mem   *oracle.Memory
	svc   *Service
}

// newBareHarness builds a service with no season. wrap, when set, replaces
// the custody oracle with one built around the in-memory oracles.
func newBareHarness(t *testing.T, wrap func(*oracle.Memory) oracle.Custody) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), now: testStart, mem: oracle.NewMemory()}
	cfg := ledger.DefaultConfig()
	cfg.Admins = []ledger.Address{admin}
	h.store = ledger.NewStore(cfg, ledger.WithClock(func() time.Time { return h.now }))
	set := h.mem.Set()
	if wrap != nil {
		set.Custody = wrap(h.mem)
	}
	svc, err := NewService(h.store, set, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := newBareHarness(t, nil)
	h.startSeason()
	return h
}

func (h *harness) startSeason() ledger.Season {
	h.t.Helper()
	s, err := h.svc.Registry.StartSeason(h.ctx, admin, SeasonInput{
		Registration: registrationWindow,
		Warfare:      warfareWindow,
		Resolution:   resolutionWindow,
	})
	if err != nil {
		h.t.Fatalf("start season: %v", err)
	}
	return s
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) toWarfare() { h.now = testStart.Add(registrationWindow + time.Hour) }

func colonyID(name string) ledger.ID { return ledger.NameID("colony", name) }

// registerColony makes owner the creator of a fresh colony, funds it and
// registers it with stake.
func (h *harness) registerColony(owner ledger.Address, name string, stake int64) ledger.ID {
	h.t.Helper()
	id := colonyID(name)
	h.mem.SetCreator(id, owner)
	h.mem.Fund(owner, stake+10_000)
	if _, err := h.svc.Registry.RegisterColony(h.ctx, owner, id, stake); err != nil {
		h.t.Fatalf("register %s: %v", name, err)
	}
	return id
}

type member struct {
	addr   ledger.Address
	colony ledger.ID
}

// alliance forms an alliance of size members. members[0] is the leader.
func (h *harness) alliance(name string, size int) (ledger.ID, []member) {
	h.t.Helper()
	members := make([]member, size)
	for i := range members {
		addr := ledger.Address(name + "-" + string(rune('a'+i)))
		members[i] = member{addr: addr, colony: h.registerColony(addr, string(addr), 1000)}
	}
	al, err := h.svc.Alliances.CreateAlliance(h.ctx, members[0].addr, name, members[0].colony)
	if err != nil {
		h.t.Fatalf("create alliance: %v", err)
	}
	for _, m := range members[1:] {
		if err := h.svc.Alliances.JoinAlliance(h.ctx, m.addr, al.ID, m.colony); err != nil {
			h.t.Fatalf("join %s: %v", m.addr, err)
		}
	}
	return al.ID, members
}

func (h *harness) getAlliance(id ledger.ID) ledger.Alliance {
	h.t.Helper()
	al, err := h.svc.Alliances.Alliance(h.ctx, id)
	if err != nil {
		h.t.Fatalf("alliance: %v", err)
	}
	return al
}

func (h *harness) season() ledger.Season {
	h.t.Helper()
	s, err := h.svc.Registry.CurrentSeason(h.ctx)
	if err != nil {
		h.t.Fatalf("current season: %v", err)
	}
	return s
}

// state encodes the ledger without its event sequence, so two ledgers that
// hold the same entities compare equal.
func (h *harness) state() []byte {
	h.t.Helper()
	snap := h.store.Export()
	snap.Seq = 0
	data, err := json.Marshal(snap)
	if err != nil {
		h.t.Fatalf("marshal state: %v", err)
	}
	return data
}

func (h *harness) expectUnchanged(before []byte) {
	h.t.Helper()
	if after := h.state(); !bytes.Equal(before, after) {
		h.t.Fatalf("ledger changed by a failed operation")
	}
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestEngineRejectsReentrantOperation(t *testing.T) {
	h := newHarness(t)
	colony := h.registerColony("alice", "alpha", 1000)

	var inner error
	err := h.store.Update(h.ctx, func(tx *ledger.Tx) error {
		inner = h.svc.Registry.SetPrimaryColony(tx.Context(), "alice", colony)
		_, viewErr := h.svc.Overview.ColonyStrategicOverview(tx.Context(), colony)
		if !errors.Is(viewErr, ErrReentrantCall) {
			t.Fatalf("expected reentrant view to be rejected, got %v", viewErr)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer update: %v", err)
	}
	expectErr(t, inner, ErrReentrantCall)
}

func TestAuthorityFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.mem.SetCreator(colonyID("alpha"), "alice")
	h.mem.Fund("alice", 5000)
	h.mem.FailAuthority(true)
	before := h.state()

	_, err := h.svc.Registry.RegisterColony(h.ctx, "alice", colonyID("alpha"), 1000)
	expectErr(t, err, ErrOracleUnavailable)
	h.expectUnchanged(before)
	if got := h.mem.Balance("alice"); got != 5000 {
		t.Fatalf("balance changed to %d", got)
	}
}

func TestDebtOracleFailureIsPermissive(t *testing.T) {
	h := newHarness(t)
	leader := h.registerColony("lead", "lead-colony", 1000)
	joiner := h.registerColony("joiner", "joiner-colony", 1000)
	al, err := h.svc.Alliances.CreateAlliance(h.ctx, "lead", "Debtors", leader)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.mem.FailDebt(true)
	if err := h.svc.Alliances.JoinAlliance(h.ctx, "joiner", al.ID, joiner); err != nil {
		t.Fatalf("join with failing debt oracle: %v", err)
	}
}

func TestJoinRejectsIndebtedColony(t *testing.T) {
	h := newHarness(t)
	leader := h.registerColony("lead", "lead-colony", 1000)
	joiner := h.registerColony("joiner", "joiner-colony", 1000)
	al, err := h.svc.Alliances.CreateAlliance(h.ctx, "lead", "Debtors", leader)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.mem.SetDebt(joiner, 50_000)
	expectErr(t, h.svc.Alliances.JoinAlliance(h.ctx, "joiner", al.ID, joiner), ErrDebtTooHigh)
}

func TestSweepExpiresProposalsInvitationsAndSeason(t *testing.T) {
	h := newHarness(t)
	id, members := h.alliance("sweepers", 3)
	outsider := h.registerColony("outsider", "outsider-colony", 1000)
	if _, err := h.svc.Alliances.SendInvitation(h.ctx, members[0].addr, outsider); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := h.svc.Alliances.RecordBetrayal(h.ctx, members[0].addr, members[2].colony); err != nil {
		t.Fatalf("betrayal: %v", err)
	}
	if _, err := h.svc.Alliances.ProposeForgiveness(h.ctx, members[0].addr, members[2].colony); err != nil {
		t.Fatalf("propose: %v", err)
	}

	res, err := h.svc.Sweep(h.ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res != (SweepResult{}) {
		t.Fatalf("nothing should expire yet: %+v", res)
	}

	h.advance(8 * 24 * time.Hour)
	res, err = h.svc.Sweep(h.ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.ProposalsExpired != 1 || res.InvitationsExpired != 1 || res.SeasonEnded {
		t.Fatalf("unexpected sweep result %+v", res)
	}
	p, err := h.svc.Alliances.Proposal(h.ctx, id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if p.Active || p.Executed {
		t.Fatalf("proposal should be closed: %+v", p)
	}

	h.now = testStart.Add(registrationWindow + warfareWindow + resolutionWindow)
	res, err = h.svc.Sweep(h.ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !res.SeasonEnded {
		t.Fatalf("season should end after resolution")
	}
	if _, err := h.svc.Registry.CurrentSeason(h.ctx); !errors.Is(err, ErrNoActiveSeason) {
		t.Fatalf("expected no active season, got %v", err)
	}
}
