package game

import (
	"errors"
	"slices"
	"testing"
	"time"

	"colonywars/internal/ledger"
)

func (h *harness) seedTerritories(count int) []ledger.Territory {
	h.t.Helper()
	terrs, err := h.svc.Territories.Seed(h.ctx, admin, count, 42)
	if err != nil {
		h.t.Fatalf("seed territories: %v", err)
	}
	return terrs
}

func (h *harness) claim(owner ledger.Address, colony, territory ledger.ID) {
	h.t.Helper()
	if _, err := h.svc.Territories.Claim(h.ctx, owner, colony, territory); err != nil {
		h.t.Fatalf("claim: %v", err)
	}
}

func ruleAdvice(t *testing.T, name string) string {
	t.Helper()
	for _, r := range DefaultRules() {
		if r.Name == name {
			return r.Advice
		}
	}
	t.Fatalf("no rule %q", name)
	return ""
}

func TestWithdrawForfeitsTerritoriesAndChargesPenalty(t *testing.T) {
	h := newHarness(t)
	alpha := h.registerColony("alice", "alpha", 1000)
	terrs := h.seedTerritories(4)
	h.claim("alice", alpha, terrs[0].ID)
	h.claim("alice", alpha, terrs[1].ID)
	pool := h.season().PrizePool
	balance := h.mem.Balance("alice")

	res, err := h.svc.Overview.WithdrawFromWarfare(h.ctx, "alice", alpha)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Penalty != 600 || res.Refund != 400 || res.Territories != 2 || res.Betrayal {
		t.Fatalf("unexpected withdrawal %+v", res)
	}
	if got := h.mem.Balance("alice"); got != balance+400 {
		t.Fatalf("balance = %d, want %d", got, balance+400)
	}
	if got := h.season().PrizePool; got != pool+600 {
		t.Fatalf("prize pool = %d, want %d", got, pool+600)
	}
	controlled, err := h.svc.Territories.Controlled(h.ctx, alpha)
	if err != nil {
		t.Fatalf("controlled: %v", err)
	}
	if len(controlled) != 0 {
		t.Fatalf("territories still controlled: %d", len(controlled))
	}
	terr, _, err := h.svc.Territories.Territory(h.ctx, terrs[0].ID)
	if err != nil {
		t.Fatalf("territory: %v", err)
	}
	if !terr.ControllingColony.IsZero() {
		t.Fatalf("territory not released")
	}
	_, err = h.svc.Registry.Profile(h.ctx, alpha)
	expectErr(t, err, ErrColonyNotRegistered)
	_, err = h.svc.Overview.WithdrawFromWarfare(h.ctx, "alice", alpha)
	expectErr(t, err, ErrColonyNotRegistered)
}

func TestWithdrawFromAllianceCountsAsBetrayal(t *testing.T) {
	h := newHarness(t)
	id, members := h.alliance("deserters", 3)

	res, err := h.svc.Overview.WithdrawFromWarfare(h.ctx, members[1].addr, members[1].colony)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !res.Betrayal {
		t.Fatalf("withdrawal from an alliance should count as betrayal")
	}
	al := h.getAlliance(id)
	if al.StabilityIndex != InitialStability-BetrayalPenalty || al.BetrayalCount != 1 {
		t.Fatalf("unexpected alliance after withdrawal %+v", al)
	}
	if len(al.Members) != 2 || al.HasMember(members[1].addr) {
		t.Fatalf("withdrawn member still seated: %v", al.Members)
	}
}

func TestWithdrawalBetrayalFollowsTheSeatedColony(t *testing.T) {
	h := newHarness(t)
	id, _ := h.alliance("outposts", 2)
	home := h.registerColony("alice", "home", 1000)
	outpost := h.registerColony("alice", "outpost", 1000)
	if err := h.svc.Alliances.JoinAlliance(h.ctx, "alice", id, outpost); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := h.svc.Overview.WithdrawFromWarfare(h.ctx, "alice", home)
	if err != nil {
		t.Fatalf("withdraw home: %v", err)
	}
	al := h.getAlliance(id)
	if res.Betrayal || al.StabilityIndex != InitialStability || !al.HasMember("alice") {
		t.Fatalf("unseated primary withdrawal touched the alliance: betrayal=%v %+v", res.Betrayal, al)
	}

	if err := h.svc.Registry.SetPrimaryColony(h.ctx, "alice", outpost); err != nil {
		t.Fatalf("set primary: %v", err)
	}
	res, err = h.svc.Overview.WithdrawFromWarfare(h.ctx, "alice", outpost)
	if err != nil {
		t.Fatalf("withdraw outpost: %v", err)
	}
	al = h.getAlliance(id)
	if !res.Betrayal || al.StabilityIndex != InitialStability-BetrayalPenalty || al.HasMember("alice") {
		t.Fatalf("seated primary withdrawal: betrayal=%v %+v", res.Betrayal, al)
	}
}

func TestReinforceDefensivePosition(t *testing.T) {
	h := newHarness(t)
	alpha := h.registerColony("alice", "alpha", 1000)

	_, err := h.svc.Overview.ReinforceDefensivePosition(h.ctx, "alice", alpha, 100)
	expectErr(t, err, ErrNotWarfarePhase)

	h.toWarfare()
	pool := h.season().PrizePool
	balance := h.mem.Balance("alice")

	_, err = h.svc.Overview.ReinforceDefensivePosition(h.ctx, "alice", alpha, 0)
	expectErr(t, err, ErrInvalidAmount)
	_, err = h.svc.Overview.ReinforceDefensivePosition(h.ctx, "alice", alpha, 501)
	expectErr(t, err, ErrReinforcementTooLarge)
	_, err = h.svc.Overview.ReinforceDefensivePosition(h.ctx, "bob", alpha, 100)
	expectErr(t, err, ErrNotController)

	p, err := h.svc.Overview.ReinforceDefensivePosition(h.ctx, "alice", alpha, 500)
	if err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	if p.DefensiveStake != 1400 || p.StakeIncreases != 1 {
		t.Fatalf("unexpected profile %+v", p)
	}
	_, err = h.svc.Overview.ReinforceDefensivePosition(h.ctx, "alice", alpha, 100)
	expectErr(t, err, ErrRateLimitExceeded)

	h.advance(time.Hour)
	p, err = h.svc.Overview.ReinforceDefensivePosition(h.ctx, "alice", alpha, 100)
	if err != nil {
		t.Fatalf("second reinforce: %v", err)
	}
	if p.DefensiveStake != 1480 || p.StakeIncreases != 2 {
		t.Fatalf("unexpected profile %+v", p)
	}

	h.advance(time.Hour)
	_, err = h.svc.Overview.ReinforceDefensivePosition(h.ctx, "alice", alpha, 100)
	expectErr(t, err, ErrReinforcementLimit)

	if got := h.mem.Balance("alice"); got != balance-600 {
		t.Fatalf("balance = %d, want %d", got, balance-600)
	}
	if got := h.season().PrizePool; got != pool+120 {
		t.Fatalf("prize pool = %d, want %d", got, pool+120)
	}
}

func TestAssessThreat(t *testing.T) {
	me := colonyID("me")
	foe := colonyID("foe")
	raid := ledger.Battle{Attacker: foe, Defender: me}
	siege := ledger.Battle{Attacker: foe, Defender: me, Siege: true}
	outgoing := ledger.Battle{Attacker: me, Defender: foe}
	resolved := ledger.Battle{Attacker: foe, Defender: me, Resolved: true}

	tests := []struct {
		name    string
		battles []ledger.Battle
		want    ThreatLevel
	}{
		{"quiet", nil, ThreatSafe},
		{"resolved raid", []ledger.Battle{resolved}, ThreatSafe},
		{"attacking", []ledger.Battle{outgoing}, ThreatLow},
		{"one siege", []ledger.Battle{siege, outgoing}, ThreatMedium},
		{"three sieges", []ledger.Battle{siege, siege, siege}, ThreatHigh},
		{"raid", []ledger.Battle{siege, raid}, ThreatCritical},
	}
	for _, tc := range tests {
		got, _, _, _ := assessThreat(tc.battles, me)
		if got != tc.want {
			t.Fatalf("%s: threat = %s, want %s", tc.name, got, tc.want)
		}
	}

	_, incoming, sieges, out := assessThreat([]ledger.Battle{siege, raid, outgoing, resolved}, me)
	if incoming != 2 || sieges != 1 || out != 1 {
		t.Fatalf("counts = %d/%d/%d", incoming, sieges, out)
	}
}

func TestOverallScore(t *testing.T) {
	tests := []struct {
		readiness  int
		threat     ThreatLevel
		vulnerable int
		want       int
	}{
		{100, ThreatSafe, 0, 100},
		{100, ThreatLow, 3, 100},
		{100, ThreatMedium, 0, 85},
		{100, ThreatHigh, 4, 56},
		{80, ThreatCritical, 0, 40},
	}
	for _, tc := range tests {
		if got := OverallScore(tc.readiness, tc.threat, tc.vulnerable); got != tc.want {
			t.Fatalf("OverallScore(%d, %s, %d) = %d, want %d", tc.readiness, tc.threat, tc.vulnerable, got, tc.want)
		}
	}
}

func TestOverviewUnderRaid(t *testing.T) {
	h := newHarness(t)
	alpha := h.registerColony("alice", "alpha", 1000)
	beta := h.registerColony("bob", "beta", 1000)
	h.toWarfare()
	if _, err := h.svc.Battles.Declare(h.ctx, "bob", beta, alpha, ledger.ZeroID); err != nil {
		t.Fatalf("declare raid: %v", err)
	}

	ov, err := h.svc.Overview.ColonyStrategicOverview(h.ctx, alpha)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.Threat != ThreatCritical || ov.IncomingAttacks != 1 {
		t.Fatalf("threat = %s incoming = %d", ov.Threat, ov.IncomingAttacks)
	}
	if ov.Readiness.Score != 40 || ov.OverallScore != 20 {
		t.Fatalf("readiness = %d overall = %d", ov.Readiness.Score, ov.OverallScore)
	}
	if !ov.Readiness.CanAttack || !ov.Readiness.CanDefend || ov.Readiness.CanSiege || ov.Readiness.CanRaid {
		t.Fatalf("unexpected readiness %+v", ov.Readiness)
	}
	if !slices.Contains(ov.Recommendations, ruleAdvice(t, "under-attack")) {
		t.Fatalf("missing under-attack advice in %q", ov.Recommendations)
	}

	ov, err = h.svc.Overview.ColonyStrategicOverview(h.ctx, beta)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.Threat != ThreatLow || ov.OutgoingAttacks != 1 || ov.Readiness.CanAttack {
		t.Fatalf("unexpected attacker overview %+v", ov)
	}
}

func TestOverviewOfUnregisteredColony(t *testing.T) {
	h := newHarness(t)
	ov, err := h.svc.Overview.ColonyStrategicOverview(h.ctx, colonyID("ghost"))
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.Registered || ov.Readiness != (Readiness{}) || ov.Threat != ThreatSafe || ov.OverallScore != 0 {
		t.Fatalf("unexpected overview %+v", ov)
	}
	if ov.Phase != ledger.PhaseRegistration || len(ov.Recommendations) == 0 {
		t.Fatalf("expected registration advice, got %q in %s", ov.Recommendations, ov.Phase)
	}
}

func TestCompareBattlePower(t *testing.T) {
	h := newHarness(t)
	alpha := h.registerColony("alice", "alpha", 1000)
	beta := h.registerColony("bob", "beta", 1000)

	cmp, err := h.svc.Overview.CompareBattlePower(h.ctx, alpha, beta)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.AttackerPower != 100 || cmp.DefenderPower != 110 || cmp.RatioPercent != 90 || cmp.Outcome != EvenOdds {
		t.Fatalf("unexpected comparison %+v", cmp)
	}
	_, err = h.svc.Overview.CompareBattlePower(h.ctx, alpha, alpha)
	if !errors.Is(err, ErrSameColony) {
		t.Fatalf("expected ErrSameColony, got %v", err)
	}
}

func TestWinProbabilityBuckets(t *testing.T) {
	tests := []struct {
		ratio int64
		want  WinProbability
	}{
		{0, VeryUnlikely},
		{49, VeryUnlikely},
		{50, Unlikely},
		{84, Unlikely},
		{85, EvenOdds},
		{115, EvenOdds},
		{116, Likely},
		{200, Likely},
		{201, VeryLikely},
	}
	for _, tc := range tests {
		if got := winProbability(tc.ratio); got != tc.want {
			t.Fatalf("winProbability(%d) = %s, want %s", tc.ratio, got, tc.want)
		}
	}
}
