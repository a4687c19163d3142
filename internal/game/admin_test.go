package game

import (
	"errors"
	"testing"

	"colonywars/internal/ledger"
)

func TestSetFee(t *testing.T) {
	h := newHarness(t)
	before := h.state()

	_, err := h.svc.Admin.SetFee(h.ctx, admin, "listing_fee", 10)
	expectErr(t, err, ErrUnknownFeeType)
	_, err = h.svc.Admin.SetFee(h.ctx, "alice", "squad_stake", 10)
	expectErr(t, err, ErrUnauthorized)
	_, err = h.svc.Admin.SetFee(h.ctx, admin, "squad_stake", -1)
	expectErr(t, err, ErrInvalidAmount)
	h.expectUnchanged(before)

	cfg, err := h.svc.Admin.SetFee(h.ctx, admin, "squad_stake", 25)
	if err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if cfg.Fees[ledger.FeeSquadStake] != 25 {
		t.Fatalf("fee not applied: %v", cfg.Fees)
	}
	stored, _ := h.svc.Admin.Config(h.ctx)
	if stored.Fees[ledger.FeeSquadStake] != 25 {
		t.Fatalf("fee not stored")
	}
}

func TestSquadStakeFeeGoesToPrizePool(t *testing.T) {
	h := newHarness(t)
	f := newSquadFixture(t, h)
	if _, err := h.svc.Admin.SetFee(h.ctx, admin, "squad_stake", 25); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	pool := h.season().PrizePool
	balance := h.mem.Balance("alice")
	if _, err := h.svc.Squads.StakeSquad(h.ctx, "alice", f.colony, f.squadIn); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if got := h.season().PrizePool; got != pool+25 {
		t.Fatalf("prize pool = %d, want %d", got, pool+25)
	}
	if got := h.mem.Balance("alice"); got != balance-25 {
		t.Fatalf("balance = %d, want %d", got, balance-25)
	}
}

func TestSetMaxAllianceMembers(t *testing.T) {
	h := newHarness(t)
	h.alliance("trio", 3)

	_, err := h.svc.Admin.SetMaxAllianceMembers(h.ctx, admin, 1)
	expectErr(t, err, ErrInvalidConfig)
	_, err = h.svc.Admin.SetMaxAllianceMembers(h.ctx, admin, 2)
	expectErr(t, err, ErrInvalidConfig)
	_, err = h.svc.Admin.SetMaxAllianceMembers(h.ctx, "trio-a", 3)
	expectErr(t, err, ErrUnauthorized)

	cfg, err := h.svc.Admin.SetMaxAllianceMembers(h.ctx, admin, 3)
	if err != nil {
		t.Fatalf("set max members: %v", err)
	}
	if cfg.MaxAllianceMembers != 3 {
		t.Fatalf("max members = %d", cfg.MaxAllianceMembers)
	}
}

func TestCollectionRegistry(t *testing.T) {
	h := newHarness(t)
	f := newSquadFixture(t, h)

	_, err := h.svc.Admin.RegisterCollection(h.ctx, admin, "0xnew", ledger.Category(0))
	expectErr(t, err, ErrInvalidConfig)
	_, err = h.svc.Admin.RegisterCollection(h.ctx, admin, "", ledger.CategoryResource)
	expectErr(t, err, ErrInvalidConfig)
	_, err = h.svc.Admin.RegisterCollection(h.ctx, "alice", "0xnew", ledger.CategoryResource)
	expectErr(t, err, ErrUnauthorized)
	_, err = h.svc.Admin.SetCollectionEnabled(h.ctx, admin, CollectionID("0xmissing"), false)
	expectErr(t, err, ErrUnknownCollection)

	if _, err := h.svc.Squads.StakeSquad(h.ctx, "alice", f.colony, f.squadIn); err != nil {
		t.Fatalf("stake: %v", err)
	}
	_, err = h.svc.Admin.RegisterCollection(h.ctx, admin, territoryContract, ledger.CategoryResource)
	expectErr(t, err, ErrInvalidConfig)
	if _, err := h.svc.Admin.RegisterCollection(h.ctx, admin, territoryContract, ledger.CategoryTerritory); err != nil {
		t.Fatalf("re-register with same type: %v", err)
	}

	cols, err := h.svc.Admin.Collections(h.ctx)
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("collections = %d, want 3", len(cols))
	}
}

func TestSeasonLifecycle(t *testing.T) {
	h := newBareHarness(t, nil)

	_, err := h.svc.Registry.CurrentSeason(h.ctx)
	expectErr(t, err, ErrNoActiveSeason)
	_, err = h.svc.Registry.StartSeason(h.ctx, "alice", SeasonInput{Registration: 1, Warfare: 1, Resolution: 1})
	expectErr(t, err, ErrUnauthorized)
	_, err = h.svc.Registry.StartSeason(h.ctx, admin, SeasonInput{Registration: registrationWindow})
	expectErr(t, err, ErrInvalidSeason)

	first := h.startSeason()
	if first.ID != 1 || first.Phase(h.now) != ledger.PhaseRegistration {
		t.Fatalf("unexpected season %+v", first)
	}
	_, err = h.svc.Registry.StartSeason(h.ctx, admin, SeasonInput{Registration: 1, Warfare: 1, Resolution: 1})
	expectErr(t, err, ErrSeasonActive)

	if _, err := h.svc.Registry.EndSeason(h.ctx, admin); err != nil {
		t.Fatalf("end season: %v", err)
	}
	if _, err := h.svc.Registry.CurrentSeason(h.ctx); !errors.Is(err, ErrNoActiveSeason) {
		t.Fatalf("expected no active season, got %v", err)
	}
	second := h.startSeason()
	if second.ID != 2 {
		t.Fatalf("second season id = %d", second.ID)
	}
}

func TestRegisterColony(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Admin.SetFee(h.ctx, admin, "season_registration", 50); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	alpha := colonyID("alpha")
	h.mem.SetCreator(alpha, "alice")
	h.mem.Fund("alice", 5000)

	_, err := h.svc.Registry.RegisterColony(h.ctx, "bob", alpha, 1000)
	expectErr(t, err, ErrNotController)
	_, err = h.svc.Registry.RegisterColony(h.ctx, "alice", alpha, 99)
	expectErr(t, err, ErrStakeTooLow)
	_, err = h.svc.Registry.RegisterColony(h.ctx, "alice", alpha, 6000)
	expectErr(t, err, ErrInsufficientFunds)

	p, err := h.svc.Registry.RegisterColony(h.ctx, "alice", alpha, 1000)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.DefensiveStake != 1000 || p.Owner != "alice" || !p.Registered {
		t.Fatalf("unexpected profile %+v", p)
	}
	if got := h.mem.Balance("alice"); got != 3950 {
		t.Fatalf("balance = %d, want 3950", got)
	}
	if got := h.season().PrizePool; got != 50 {
		t.Fatalf("prize pool = %d, want 50", got)
	}
	_, err = h.svc.Registry.RegisterColony(h.ctx, "alice", alpha, 1000)
	expectErr(t, err, ErrAlreadyRegistered)

	primary, err := h.svc.Registry.PrimaryColony(h.ctx, "alice")
	if err != nil || primary != alpha {
		t.Fatalf("primary = %s, %v", primary, err)
	}
	second := h.registerColony("alice", "second", 500)
	if primary, _ := h.svc.Registry.PrimaryColony(h.ctx, "alice"); primary != alpha {
		t.Fatalf("second registration replaced the primary colony")
	}
	if err := h.svc.Registry.SetPrimaryColony(h.ctx, "alice", second); err != nil {
		t.Fatalf("set primary: %v", err)
	}
	if primary, _ := h.svc.Registry.PrimaryColony(h.ctx, "alice"); primary != second {
		t.Fatalf("primary not updated")
	}

	h.toWarfare()
	late := colonyID("late")
	h.mem.SetCreator(late, "carol")
	h.mem.Fund("carol", 5000)
	_, err = h.svc.Registry.RegisterColony(h.ctx, "carol", late, 1000)
	expectErr(t, err, ErrRegistrationClosed)
}
