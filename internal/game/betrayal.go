package game

import (
	"context"
	"time"

	"colonywars/internal/ledger"
)

// RecordBetrayal marks betrayer in the reporter's alliance. The betrayer must
// be a member, or have left within the grace window.
func (a *Alliances) RecordBetrayal(ctx context.Context, caller ledger.Address, betrayer ledger.ID) error {
	return a.update(ctx, "record_betrayal", func(tx *ledger.Tx) error {
		allianceID, ok := tx.AllianceOfAddress(caller)
		if !ok {
			return ErrNotMember
		}
		if own, _ := tx.MemberColony(caller); own == betrayer {
			return ErrSameColony
		}
		if tx.IsMarked(allianceID, betrayer) {
			return ErrBetrayalAlreadyRecorded
		}
		current := false
		if cur, ok := tx.AllianceOfColony(betrayer); ok && cur == allianceID {
			current = true
		}
		if !current {
			d, ok := tx.Departure(betrayer)
			if !ok || d.Alliance != allianceID || tx.Now().Sub(d.At) > tx.Config().BetrayalGrace {
				return ErrNotBetrayer
			}
		}
		return a.applyBetrayal(tx, allianceID, betrayer, caller)
	})
}

// applyBetrayal applies the stability penalty, marks and cools down the
// betrayer and removes it if it still holds a seat. A betrayed leader seat
// passes to the earliest remaining member.
func (a *Alliances) applyBetrayal(tx *ledger.Tx, allianceID, betrayer ledger.ID, reporter ledger.Address) error {
	now := tx.Now()
	if member, ok := tx.MemberOfColony(allianceID, betrayer); ok {
		if _, err := tx.RemoveAllianceMember(allianceID, member); err != nil {
			return err
		}
		tx.PutDeparture(ledger.Departure{Alliance: allianceID, Colony: betrayer, Member: member, At: now})
	}
	al, ok := tx.Alliance(allianceID)
	if !ok {
		return ErrAllianceNotFound
	}
	al.StabilityIndex = floorSub(al.StabilityIndex, BetrayalPenalty)
	al.BetrayalCount++
	if al.LeaderColony == betrayer && al.Active {
		if len(al.Members) == 0 {
			if err := a.closeAlliance(tx, &al, reporter); err != nil {
				return err
			}
		} else if next, ok := tx.MemberColony(al.Members[0]); ok {
			al.LeaderColony = next
			tx.Emit(ledger.Event{Type: ledger.EventLeadershipChanged, Colony: next, Alliance: allianceID})
		}
	}
	if err := tx.PutAlliance(al); err != nil {
		return err
	}
	tx.SetLastBetrayal(betrayer, now)
	tx.MarkBetrayal(allianceID, betrayer)
	tx.Emit(ledger.Event{
		Type:     ledger.EventBetrayalRecorded,
		Colony:   betrayer,
		Alliance: allianceID,
		Actor:    reporter,
		Data:     map[string]any{"stability": al.StabilityIndex, "betrayals": al.BetrayalCount},
	})
	return nil
}

// ProposeForgiveness opens a vote to clear a betrayal mark.
func (a *Alliances) ProposeForgiveness(ctx context.Context, caller ledger.Address, betrayer ledger.ID) (ledger.ForgivenessProposal, error) {
	var out ledger.ForgivenessProposal
	err := a.update(ctx, "propose_forgiveness", func(tx *ledger.Tx) error {
		allianceID, ok := tx.AllianceOfAddress(caller)
		if !ok {
			return ErrNotMember
		}
		if !tx.IsMarked(allianceID, betrayer) {
			return ErrNotMarked
		}
		now := tx.Now()
		if prev, ok := tx.Proposal(allianceID); ok && prev.Active {
			if now.Before(prev.VoteEnd) {
				return ErrProposalActive
			}
			expireProposal(tx, prev)
		}
		out = ledger.ForgivenessProposal{
			Alliance:       allianceID,
			BetrayerColony: betrayer,
			Proposer:       caller,
			VoteEnd:        now.Add(tx.Config().ForgivenessWindow),
			Active:         true,
		}
		tx.PutProposal(out)
		tx.Emit(ledger.Event{
			Type:     ledger.EventForgivenessProposed,
			Colony:   betrayer,
			Alliance: allianceID,
			Actor:    caller,
			Data:     map[string]any{"vote_end": out.VoteEnd},
		})
		return nil
	})
	return out, err
}

func expireProposal(tx *ledger.Tx, p ledger.ForgivenessProposal) {
	p.Active = false
	tx.PutProposal(p)
	tx.Emit(ledger.Event{
		Type:     ledger.EventForgivenessExpired,
		Colony:   p.BetrayerColony,
		Alliance: p.Alliance,
		Data:     map[string]any{"yes": p.YesVotes, "total": p.TotalVotes},
	})
}

// VoteOnForgiveness records one member vote. The proposal resolves as soon
// as the outcome is decided: executed once yes votes reach the threshold,
// rejected once the remaining voters can no longer reach it.
func (a *Alliances) VoteOnForgiveness(ctx context.Context, caller ledger.Address, support bool) (ledger.ForgivenessProposal, error) {
	var out ledger.ForgivenessProposal
	err := a.update(ctx, "vote_forgiveness", func(tx *ledger.Tx) error {
		allianceID, ok := tx.AllianceOfAddress(caller)
		if !ok {
			return ErrNotMember
		}
		p, ok := tx.Proposal(allianceID)
		if !ok || !p.Active {
			return ErrNoActiveProposal
		}
		if !tx.Now().Before(p.VoteEnd) {
			return ErrVotingClosed
		}
		if p.HasVoted(caller) {
			return ErrAlreadyVoted
		}
		p.Voters = append(p.Voters, caller)
		p.TotalVotes++
		if support {
			p.YesVotes++
		}
		tx.Emit(ledger.Event{
			Type:     ledger.EventForgivenessVoted,
			Colony:   p.BetrayerColony,
			Alliance: allianceID,
			Actor:    caller,
			Data:     map[string]any{"support": support, "yes": p.YesVotes, "total": p.TotalVotes},
		})

		al, _ := tx.Alliance(allianceID)
		threshold := ForgivenessThreshold(len(al.Members))
		remaining := 0
		for _, m := range al.Members {
			if !p.HasVoted(m) {
				remaining++
			}
		}
		switch {
		case p.YesVotes >= threshold:
			p.Executed = true
			p.Active = false
			tx.ClearBetrayalMark(allianceID, p.BetrayerColony)
			tx.SetLastBetrayal(p.BetrayerColony, time.Time{})
			tx.Emit(ledger.Event{
				Type:     ledger.EventForgivenessExecuted,
				Colony:   p.BetrayerColony,
				Alliance: allianceID,
				Data:     map[string]any{"yes": p.YesVotes, "threshold": threshold},
			})
		case p.YesVotes+remaining < threshold:
			p.Active = false
			tx.Emit(ledger.Event{
				Type:     ledger.EventForgivenessRejected,
				Colony:   p.BetrayerColony,
				Alliance: allianceID,
				Data:     map[string]any{"yes": p.YesVotes, "threshold": threshold},
			})
		}
		tx.PutProposal(p)
		out = p
		return nil
	})
	return out, err
}

func (a *Alliances) Proposal(ctx context.Context, allianceID ledger.ID) (ledger.ForgivenessProposal, error) {
	var out ledger.ForgivenessProposal
	err := a.view(ctx, func(tx *ledger.Tx) error {
		p, ok := tx.Proposal(allianceID)
		if !ok {
			return ErrNoActiveProposal
		}
		out = p
		return nil
	})
	return out, err
}
