package game

import (
	"testing"
	"time"

	"colonywars/internal/ledger"
)

func TestCreateAllianceChargesFormationFee(t *testing.T) {
	h := newHarness(t)
	colony := h.registerColony("alice", "alpha", 1000)
	balance := h.mem.Balance("alice")

	al, err := h.svc.Alliances.CreateAlliance(h.ctx, "alice", "  Iron   Pact ", colony)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if al.Name != "Iron Pact" || al.StabilityIndex != InitialStability || al.LeaderColony != colony {
		t.Fatalf("unexpected alliance %+v", al)
	}
	if len(al.Members) != 1 || al.Members[0] != "alice" {
		t.Fatalf("leader must be the first member: %v", al.Members)
	}
	if got := h.mem.Balance("alice"); got != balance-100 {
		t.Fatalf("formation fee not collected: %d -> %d", balance, got)
	}
	if got := h.season().PrizePool; got != 100 {
		t.Fatalf("prize pool = %d, want 100", got)
	}
	of, err := h.svc.Alliances.AllianceOf(h.ctx, colony)
	if err != nil || of.ID != al.ID {
		t.Fatalf("colony index not set: %v %v", of.ID, err)
	}
}

func TestCreateAllianceValidation(t *testing.T) {
	h := newHarness(t)
	alpha := h.registerColony("alice", "alpha", 1000)
	beta := h.registerColony("bob", "beta", 1000)
	if _, err := h.svc.Alliances.CreateAlliance(h.ctx, "alice", "Iron Pact", alpha); err != nil {
		t.Fatalf("create: %v", err)
	}

	before := h.state()
	_, err := h.svc.Alliances.CreateAlliance(h.ctx, "bob", "iron pact", beta)
	expectErr(t, err, ErrAllianceAlreadyExists)
	_, err = h.svc.Alliances.CreateAlliance(h.ctx, "bob", "x", beta)
	expectErr(t, err, ErrInvalidAllianceName)
	_, err = h.svc.Alliances.CreateAlliance(h.ctx, "bob", "Stolen", alpha)
	expectErr(t, err, ErrNotController)
	_, err = h.svc.Alliances.CreateAlliance(h.ctx, "alice", "Second", alpha)
	expectErr(t, err, ErrAlreadyInAlliance)
	h.expectUnchanged(before)

	// The leader leaving last closes the alliance, freeing the name, but the
	// formation rate limit still applies to the same address.
	if err := h.svc.Alliances.LeaveAlliance(h.ctx, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	_, err = h.svc.Alliances.CreateAlliance(h.ctx, "alice", "Iron Pact", alpha)
	expectErr(t, err, ErrRateLimitExceeded)
	if _, err := h.svc.Alliances.CreateAlliance(h.ctx, "bob", "Iron Pact", beta); err != nil {
		t.Fatalf("name should be reusable after close: %v", err)
	}
	h.advance(25 * time.Hour)
	if _, err := h.svc.Alliances.CreateAlliance(h.ctx, "alice", "Iron Pact II", alpha); err != nil {
		t.Fatalf("create after rate limit window: %v", err)
	}
}

func TestCreateAllianceRequiresStartedSeason(t *testing.T) {
	h := newBareHarness(t, nil)
	h.mem.SetCreator(colonyID("alpha"), "alice")
	h.mem.Fund("alice", 1000)
	_, err := h.svc.Alliances.CreateAlliance(h.ctx, "alice", "Early Birds", colonyID("alpha"))
	expectErr(t, err, ErrFormationNotYetAllowed)

	_, err = h.svc.Registry.StartSeason(h.ctx, admin, SeasonInput{
		Start:        testStart.Add(time.Hour),
		Registration: registrationWindow,
		Warfare:      warfareWindow,
		Resolution:   resolutionWindow,
	})
	if err != nil {
		t.Fatalf("start season: %v", err)
	}
	_, err = h.svc.Alliances.CreateAlliance(h.ctx, "alice", "Early Birds", colonyID("alpha"))
	expectErr(t, err, ErrFormationNotYetAllowed)
}

func TestAllianceMembershipInvariants(t *testing.T) {
	h := newHarness(t)
	id, members := h.alliance("full house", 8)
	extra := h.registerColony("late", "late-colony", 1000)

	expectErr(t, h.svc.Alliances.JoinAlliance(h.ctx, "late", id, extra), ErrAllianceFull)

	second := h.registerColony(members[1].addr, "second-seat", 1000)
	before := h.state()
	expectErr(t, h.svc.Alliances.JoinAlliance(h.ctx, members[1].addr, id, second), ErrDuplicateController)
	h.expectUnchanged(before)

	al := h.getAlliance(id)
	seen := map[ledger.Address]bool{}
	for _, m := range al.Members {
		if seen[m] {
			t.Fatalf("address %s holds two seats", m)
		}
		seen[m] = true
	}
	if len(al.Members) > ledger.DefaultConfig().MaxAllianceMembers {
		t.Fatalf("alliance over capacity: %d", len(al.Members))
	}

	pairID, pair := h.alliance("pair pact", 2)
	owned := h.registerColony(pair[0].addr, "owned-twice", 1000)
	h.mem.Authorize(owned, "delegate")
	before = h.state()
	expectErr(t, h.svc.Alliances.JoinAlliance(h.ctx, "delegate", pairID, owned), ErrNotColonyOwner)
	_, err := h.svc.Alliances.CreateAlliance(h.ctx, "delegate", "Proxy Pact", owned)
	expectErr(t, err, ErrNotColonyOwner)
	h.expectUnchanged(before)
	if got := h.getAlliance(pairID); len(got.Members) != 2 {
		t.Fatalf("pair pact members = %v", got.Members)
	}
}

func TestLeaveAlliance(t *testing.T) {
	h := newHarness(t)
	id, members := h.alliance("leavers", 3)

	expectErr(t, h.svc.Alliances.LeaveAlliance(h.ctx, members[0].addr), ErrCannotLeaveAsLeader)
	if err := h.svc.Alliances.LeaveAlliance(h.ctx, members[1].addr); err != nil {
		t.Fatalf("leave: %v", err)
	}
	al := h.getAlliance(id)
	if al.StabilityIndex != InitialStability-LeavePenalty {
		t.Fatalf("stability = %d, want %d", al.StabilityIndex, InitialStability-LeavePenalty)
	}
	if al.HasMember(members[1].addr) {
		t.Fatalf("member still listed")
	}
	if _, err := h.svc.Alliances.AllianceOf(h.ctx, members[1].colony); err == nil {
		t.Fatalf("colony index not cleared")
	}
	expectErr(t, h.svc.Alliances.LeaveAlliance(h.ctx, members[1].addr), ErrNotMember)
}

func TestBetrayalPenaltyFloorsAtZero(t *testing.T) {
	h := newHarness(t)
	id, members := h.alliance("traitors", 5)
	leader := members[0].addr

	want := []int{70, 40, 10, 0}
	for i, m := range members[1:] {
		if err := h.svc.Alliances.RecordBetrayal(h.ctx, leader, m.colony); err != nil {
			t.Fatalf("betrayal %d: %v", i, err)
		}
		al := h.getAlliance(id)
		if al.StabilityIndex != want[i] {
			t.Fatalf("after betrayal %d stability = %d, want %d", i, al.StabilityIndex, want[i])
		}
		if al.BetrayalCount != i+1 {
			t.Fatalf("betrayal count = %d", al.BetrayalCount)
		}
		if al.HasMember(m.addr) {
			t.Fatalf("betrayer still a member")
		}
	}

	expectErr(t, h.svc.Alliances.RecordBetrayal(h.ctx, leader, members[1].colony), ErrBetrayalAlreadyRecorded)
	expectErr(t, h.svc.Alliances.JoinAlliance(h.ctx, members[1].addr, id, members[1].colony), ErrMarkedBetrayer)
}

func TestMarkedBetrayerMayJoinAnotherAllianceAfterCooldown(t *testing.T) {
	h := newHarness(t)
	first, members := h.alliance("first pact", 3)
	second, _ := h.alliance("second pact", 2)
	betrayer := members[1]
	if err := h.svc.Alliances.RecordBetrayal(h.ctx, members[0].addr, betrayer.colony); err != nil {
		t.Fatalf("betrayal: %v", err)
	}

	expectErr(t, h.svc.Alliances.JoinAlliance(h.ctx, betrayer.addr, second, betrayer.colony), ErrBetrayalCooldownActive)

	h.advance(ledger.DefaultConfig().BetrayalCooldown + time.Hour)
	expectErr(t, h.svc.Alliances.JoinAlliance(h.ctx, betrayer.addr, first, betrayer.colony), ErrMarkedBetrayer)
	if err := h.svc.Alliances.JoinAlliance(h.ctx, betrayer.addr, second, betrayer.colony); err != nil {
		t.Fatalf("join another alliance after cooldown: %v", err)
	}
}

func TestBetrayalGraceWindow(t *testing.T) {
	h := newHarness(t)
	_, members := h.alliance("grace", 3)
	if err := h.svc.Alliances.LeaveAlliance(h.ctx, members[1].addr); err != nil {
		t.Fatalf("leave: %v", err)
	}
	h.advance(time.Hour)
	if err := h.svc.Alliances.RecordBetrayal(h.ctx, members[0].addr, members[1].colony); err != nil {
		t.Fatalf("betrayal within grace: %v", err)
	}

	if err := h.svc.Alliances.LeaveAlliance(h.ctx, members[2].addr); err != nil {
		t.Fatalf("leave: %v", err)
	}
	h.advance(25 * time.Hour)
	expectErr(t, h.svc.Alliances.RecordBetrayal(h.ctx, members[0].addr, members[2].colony), ErrNotBetrayer)
}

func TestBetrayedLeaderSeatPasses(t *testing.T) {
	h := newHarness(t)
	id, members := h.alliance("succession", 3)
	if err := h.svc.Alliances.RecordBetrayal(h.ctx, members[1].addr, members[0].colony); err != nil {
		t.Fatalf("betrayal: %v", err)
	}
	al := h.getAlliance(id)
	if al.LeaderColony != members[1].colony {
		t.Fatalf("leader = %s, want %s", al.LeaderColony.Short(), members[1].colony.Short())
	}
	if !al.Active || len(al.Members) != 2 {
		t.Fatalf("unexpected alliance %+v", al)
	}
}

func forgivenessSetup(t *testing.T) (*harness, ledger.ID, []member) {
	h := newHarness(t)
	id, members := h.alliance("forgivers", 5)
	if err := h.svc.Alliances.RecordBetrayal(h.ctx, members[0].addr, members[4].colony); err != nil {
		t.Fatalf("betrayal: %v", err)
	}
	if _, err := h.svc.Alliances.ProposeForgiveness(h.ctx, members[0].addr, members[4].colony); err != nil {
		t.Fatalf("propose: %v", err)
	}
	return h, id, members
}

func TestForgivenessThreeOfFourExecutes(t *testing.T) {
	h, id, members := forgivenessSetup(t)
	if n := len(h.getAlliance(id).Members); n != 4 {
		t.Fatalf("members = %d, want 4", n)
	}

	for i := 0; i < 3; i++ {
		p, err := h.svc.Alliances.VoteOnForgiveness(h.ctx, members[i].addr, true)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if i < 2 && !p.Active {
			t.Fatalf("proposal closed early after %d votes", i+1)
		}
		if i == 2 && (!p.Executed || p.Active) {
			t.Fatalf("proposal should execute on third yes: %+v", p)
		}
	}

	if err := h.svc.Alliances.JoinAlliance(h.ctx, members[4].addr, id, members[4].colony); err != nil {
		t.Fatalf("rejoin after forgiveness: %v", err)
	}
	if !h.getAlliance(id).HasMember(members[4].addr) {
		t.Fatalf("forgiven colony could not rejoin")
	}
}

func TestForgivenessTwoTwoRejects(t *testing.T) {
	h, id, members := forgivenessSetup(t)
	votes := []bool{true, true, false, false}
	var p ledger.ForgivenessProposal
	var err error
	for i, v := range votes {
		p, err = h.svc.Alliances.VoteOnForgiveness(h.ctx, members[i].addr, v)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if i < 3 && !p.Active {
			t.Fatalf("proposal closed after %d votes", i+1)
		}
	}
	if p.Active || p.Executed {
		t.Fatalf("2-2 vote must reject: %+v", p)
	}
	if p.YesVotes != 2 || p.TotalVotes != 4 {
		t.Fatalf("tally = %d/%d", p.YesVotes, p.TotalVotes)
	}
	_, err = h.svc.Alliances.VoteOnForgiveness(h.ctx, members[0].addr, true)
	expectErr(t, err, ErrNoActiveProposal)
	expectErr(t, h.svc.Alliances.JoinAlliance(h.ctx, members[4].addr, id, members[4].colony), ErrMarkedBetrayer)
}

func TestForgivenessVotingRules(t *testing.T) {
	h, _, members := forgivenessSetup(t)
	if _, err := h.svc.Alliances.VoteOnForgiveness(h.ctx, members[0].addr, false); err != nil {
		t.Fatalf("vote: %v", err)
	}
	_, err := h.svc.Alliances.VoteOnForgiveness(h.ctx, members[0].addr, true)
	expectErr(t, err, ErrAlreadyVoted)
	_, err = h.svc.Alliances.ProposeForgiveness(h.ctx, members[1].addr, members[4].colony)
	expectErr(t, err, ErrProposalActive)

	h.advance(49 * time.Hour)
	_, err = h.svc.Alliances.VoteOnForgiveness(h.ctx, members[1].addr, true)
	expectErr(t, err, ErrVotingClosed)
}

func TestInvitationLifecycle(t *testing.T) {
	h := newHarness(t)
	id, members := h.alliance("inviters", 2)
	guest := h.registerColony("guest", "guest-colony", 1000)
	other := h.registerColony("other", "other-colony", 1000)

	inv, err := h.svc.Alliances.SendInvitation(h.ctx, members[1].addr, guest)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if !inv.Expiry.Equal(h.now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expiry = %v", inv.Expiry)
	}
	_, err = h.svc.Alliances.SendInvitation(h.ctx, members[0].addr, guest)
	expectErr(t, err, ErrInvitationPending)

	if err := h.svc.Alliances.AcceptInvitation(h.ctx, "guest", guest); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !h.getAlliance(id).HasMember("guest") {
		t.Fatalf("guest not seated")
	}

	if _, err := h.svc.Alliances.SendInvitation(h.ctx, members[0].addr, other); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := h.svc.Alliances.DeclineInvitation(h.ctx, "other", other); err != nil {
		t.Fatalf("decline: %v", err)
	}
	expectErr(t, h.svc.Alliances.AcceptInvitation(h.ctx, "other", other), ErrInvitationNotFound)

	if _, err := h.svc.Alliances.SendInvitation(h.ctx, members[0].addr, other); err != nil {
		t.Fatalf("re-invite: %v", err)
	}
	h.advance(7*24*time.Hour + time.Minute)
	expectErr(t, h.svc.Alliances.AcceptInvitation(h.ctx, "other", other), ErrInvitationExpired)
}

func TestTreasuryContributionAidAndRefund(t *testing.T) {
	h := newHarness(t)
	id, members := h.alliance("bankers", 2)
	leader, member := members[0], members[1]

	treasury, err := h.svc.Alliances.Contribute(h.ctx, member.addr, 600)
	if err != nil || treasury != 600 {
		t.Fatalf("contribute: %d %v", treasury, err)
	}
	expectErr(t, h.svc.Alliances.SendAid(h.ctx, member.addr, member.colony, 100), ErrNotLeader)
	expectErr(t, h.svc.Alliances.SendAid(h.ctx, leader.addr, member.colony, 700), ErrInsufficientTreasury)
	if err := h.svc.Alliances.SendAid(h.ctx, leader.addr, member.colony, 200); err != nil {
		t.Fatalf("aid: %v", err)
	}
	profile, err := h.svc.Registry.Profile(h.ctx, member.colony)
	if err != nil || profile.DefensiveStake != 1200 {
		t.Fatalf("stake after aid = %d (%v)", profile.DefensiveStake, err)
	}

	expectErr(t, h.svc.Alliances.DisbandAlliance(h.ctx, leader.addr), ErrAllianceNotEmpty)
	if err := h.svc.Alliances.LeaveAlliance(h.ctx, member.addr); err != nil {
		t.Fatalf("leave: %v", err)
	}
	balance := h.mem.Balance(leader.addr)
	if err := h.svc.Alliances.DisbandAlliance(h.ctx, leader.addr); err != nil {
		t.Fatalf("disband: %v", err)
	}
	if got := h.mem.Balance(leader.addr); got != balance+400 {
		t.Fatalf("treasury refund: %d -> %d", balance, got)
	}
	al := h.getAlliance(id)
	if al.Active || al.SharedTreasury != 0 {
		t.Fatalf("alliance not closed: %+v", al)
	}
}

func TestTransferLeadership(t *testing.T) {
	h := newHarness(t)
	id, members := h.alliance("heirs", 2)
	expectErr(t, h.svc.Alliances.TransferLeadership(h.ctx, members[1].addr, members[1].colony), ErrNotLeader)
	expectErr(t, h.svc.Alliances.TransferLeadership(h.ctx, members[0].addr, members[0].colony), ErrSameColony)
	if err := h.svc.Alliances.TransferLeadership(h.ctx, members[0].addr, members[1].colony); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if h.getAlliance(id).LeaderColony != members[1].colony {
		t.Fatalf("leader not transferred")
	}
	if err := h.svc.Alliances.LeaveAlliance(h.ctx, members[0].addr); err != nil {
		t.Fatalf("former leader should be able to leave: %v", err)
	}
}

func TestDefensiveBonusShares(t *testing.T) {
	h := newHarness(t)
	_, members := h.alliance("shields", 2)
	leader := members[0]
	secondary := h.registerColony(leader.addr, "shields-secondary", 1000)
	h.mem.SetCreator(colonyID("shields-unregistered"), leader.addr)

	primary, err := h.svc.Alliances.DefensiveBonuses(h.ctx, leader.colony)
	if err != nil {
		t.Fatalf("bonus: %v", err)
	}
	// 2 members: base 10 + 25 stability tier, reinforcement 8, treasury 0.
	if primary.SharePercent != 100 || primary.Base != 35 || primary.Reinforcement != 8 || primary.Total != 43 {
		t.Fatalf("primary bonus %+v", primary)
	}

	sec, _ := h.svc.Alliances.DefensiveBonuses(h.ctx, secondary)
	if sec.SharePercent != SecondaryColonySharePercent || sec.Base != 12 || sec.Reinforcement != 2 || sec.Total != 14 {
		t.Fatalf("secondary bonus %+v", sec)
	}

	none, _ := h.svc.Alliances.DefensiveBonuses(h.ctx, colonyID("shields-unregistered"))
	if none.Total != 0 || none.SharePercent != 0 {
		t.Fatalf("unregistered colony got a bonus: %+v", none)
	}
}
