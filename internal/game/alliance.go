package game

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"colonywars/internal/ledger"
)

// Alliances runs alliance governance: formation, membership, invitations,
// treasury, betrayal and forgiveness.
type Alliances struct {
	*engine
}

// CreateAlliance forms a new alliance led by leaderColony, or by the caller's
// primary colony when leaderColony is zero.
func (a *Alliances) CreateAlliance(ctx context.Context, caller ledger.Address, name string, leaderColony ledger.ID) (ledger.Alliance, error) {
	var out ledger.Alliance
	err := a.update(ctx, "create_alliance", func(tx *ledger.Tx) error {
		colony := leaderColony
		if colony.IsZero() {
			primary, ok := tx.PrimaryColony(caller)
			if !ok {
				return ErrNoPrimaryColony
			}
			colony = primary
		}
		if err := a.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		if err := a.requireCreator(tx, colony, caller); err != nil {
			return err
		}
		clean, err := ValidateAllianceName(name)
		if err != nil {
			return err
		}
		if _, ok := tx.AllianceOfAddress(caller); ok {
			return ErrAlreadyInAlliance
		}
		now := tx.Now()
		season, ok := tx.CurrentSeason()
		if !ok {
			return ErrFormationNotYetAllowed
		}
		switch season.Phase(now) {
		case ledger.PhasePending:
			return ErrFormationNotYetAllowed
		case ledger.PhaseResolution, ledger.PhaseEnded:
			return ErrFormationClosed
		}
		if _, err := a.registered(tx, colony); err != nil {
			return err
		}
		if _, ok := tx.AllianceOfColony(colony); ok {
			return fmt.Errorf("%w: colony %s", ErrAlreadyInAlliance, colony.Short())
		}
		cfg := tx.Config()
		if inCooldown(tx.LastBetrayal(colony), cfg.BetrayalCooldown, now) {
			return ErrBetrayalCooldownActive
		}
		if inCooldown(tx.LastFormation(caller), cfg.AllianceCreationWindow, now) {
			return ErrRateLimitExceeded
		}
		if _, ok := tx.AllianceByName(clean); ok {
			return fmt.Errorf("%w: %s", ErrAllianceAlreadyExists, clean)
		}

		fee := cfg.Fees[ledger.FeeAllianceFormation]
		if err := a.collect(tx, caller, fee, "alliance formation"); err != nil {
			return err
		}
		if err := addToPrizePool(tx, fee); err != nil {
			return err
		}

		var nanos [8]byte
		binary.BigEndian.PutUint64(nanos[:], uint64(now.UnixNano()))
		out = ledger.Alliance{
			ID:             ledger.DeriveID("alliance", []byte(strings.ToLower(clean)), []byte(caller), nanos[:]),
			Name:           clean,
			LeaderColony:   colony,
			StabilityIndex: InitialStability,
			Active:         true,
			CreatedAt:      now,
		}
		if err := tx.CreateAlliance(out); err != nil {
			return fmt.Errorf("%w: %v", ErrAllianceAlreadyExists, err)
		}
		if err := tx.AddAllianceMember(out.ID, caller, colony); err != nil {
			return err
		}
		out.Members = []ledger.Address{caller}
		tx.SetLastFormation(caller, now)
		if _, ok := tx.PrimaryColony(caller); !ok {
			tx.SetPrimaryColony(caller, colony)
		}
		tx.Emit(ledger.Event{
			Type:     ledger.EventAllianceCreated,
			Season:   season.ID,
			Colony:   colony,
			Alliance: out.ID,
			Actor:    caller,
			Data:     map[string]any{"name": clean, "fee": fee},
		})
		return nil
	})
	return out, err
}

// JoinAlliance seats the caller in an alliance with one of its colonies.
func (a *Alliances) JoinAlliance(ctx context.Context, caller ledger.Address, allianceID, colony ledger.ID) error {
	return a.update(ctx, "join_alliance", func(tx *ledger.Tx) error {
		if err := a.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		if err := a.admit(tx, caller, allianceID, colony); err != nil {
			return err
		}
		a.emitJoined(tx, caller, allianceID, colony)
		return nil
	})
}

// admit validates and performs a membership addition. Authorization is the
// caller's job. Seats are held by colony creators so the one-seat-per-address
// index also keeps an owner to one colony per alliance.
func (a *Alliances) admit(tx *ledger.Tx, caller ledger.Address, allianceID, colony ledger.ID) error {
	if err := a.requireCreator(tx, colony, caller); err != nil {
		return err
	}
	al, ok := tx.Alliance(allianceID)
	if !ok {
		return ErrAllianceNotFound
	}
	if !al.Active {
		return ErrAllianceInactive
	}
	if cur, ok := tx.AllianceOfAddress(caller); ok {
		if cur == allianceID {
			return ErrDuplicateController
		}
		return ErrAlreadyInAlliance
	}
	cfg := tx.Config()
	if len(al.Members) >= cfg.MaxAllianceMembers {
		return ErrAllianceFull
	}
	if _, err := a.registered(tx, colony); err != nil {
		return err
	}
	if colony == al.LeaderColony {
		return fmt.Errorf("%w: colony leads this alliance", ErrSameColony)
	}
	if _, ok := tx.AllianceOfColony(colony); ok {
		return fmt.Errorf("%w: colony %s", ErrAlreadyInAlliance, colony.Short())
	}
	if tx.IsMarked(allianceID, colony) {
		return ErrMarkedBetrayer
	}
	if inCooldown(tx.LastBetrayal(colony), cfg.BetrayalCooldown, tx.Now()) {
		return ErrBetrayalCooldownActive
	}
	if !a.debtEligible(tx, colony) {
		return ErrDebtTooHigh
	}
	if err := tx.AddAllianceMember(allianceID, caller, colony); err != nil {
		return err
	}
	if _, ok := tx.PrimaryColony(caller); !ok {
		tx.SetPrimaryColony(caller, colony)
	}
	return nil
}

func (a *Alliances) emitJoined(tx *ledger.Tx, caller ledger.Address, allianceID, colony ledger.ID) {
	al, _ := tx.Alliance(allianceID)
	tx.Emit(ledger.Event{
		Type:     ledger.EventAllianceJoined,
		Colony:   colony,
		Alliance: allianceID,
		Actor:    caller,
		Data:     map[string]any{"members": len(al.Members)},
	})
}

// SendInvitation offers a seat to targetColony. Only one invitation per
// colony can be outstanding.
func (a *Alliances) SendInvitation(ctx context.Context, caller ledger.Address, targetColony ledger.ID) (ledger.AllianceInvitation, error) {
	var out ledger.AllianceInvitation
	err := a.update(ctx, "send_invitation", func(tx *ledger.Tx) error {
		allianceID, ok := tx.AllianceOfAddress(caller)
		if !ok {
			return ErrNotMember
		}
		al, _ := tx.Alliance(allianceID)
		if !al.Active {
			return ErrAllianceInactive
		}
		cfg := tx.Config()
		if len(al.Members) >= cfg.MaxAllianceMembers {
			return ErrAllianceFull
		}
		if _, err := a.registered(tx, targetColony); err != nil {
			return err
		}
		if _, ok := tx.AllianceOfColony(targetColony); ok {
			return fmt.Errorf("%w: colony %s", ErrAlreadyInAlliance, targetColony.Short())
		}
		now := tx.Now()
		if prev, ok := tx.Invitation(targetColony); ok && prev.Active {
			if now.Before(prev.Expiry) {
				return ErrInvitationPending
			}
			expireInvitation(tx, prev)
		}
		out = ledger.AllianceInvitation{
			TargetColony: targetColony,
			Alliance:     allianceID,
			Inviter:      caller,
			Expiry:       now.Add(cfg.InvitationTTL),
			Active:       true,
		}
		tx.PutInvitation(out)
		tx.Emit(ledger.Event{
			Type:     ledger.EventInvitationSent,
			Colony:   targetColony,
			Alliance: allianceID,
			Actor:    caller,
			Data:     map[string]any{"expiry": out.Expiry},
		})
		return nil
	})
	return out, err
}

func expireInvitation(tx *ledger.Tx, inv ledger.AllianceInvitation) {
	inv.Active = false
	tx.PutInvitation(inv)
	tx.Emit(ledger.Event{Type: ledger.EventInvitationExpired, Colony: inv.TargetColony, Alliance: inv.Alliance})
}

func (a *Alliances) AcceptInvitation(ctx context.Context, caller ledger.Address, colony ledger.ID) error {
	return a.update(ctx, "accept_invitation", func(tx *ledger.Tx) error {
		if err := a.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		inv, ok := tx.Invitation(colony)
		if !ok || !inv.Active {
			return ErrInvitationNotFound
		}
		if !tx.Now().Before(inv.Expiry) {
			return ErrInvitationExpired
		}
		if err := a.admit(tx, caller, inv.Alliance, colony); err != nil {
			return err
		}
		inv.Active = false
		tx.PutInvitation(inv)
		tx.Emit(ledger.Event{Type: ledger.EventInvitationAccepted, Colony: colony, Alliance: inv.Alliance, Actor: caller})
		a.emitJoined(tx, caller, inv.Alliance, colony)
		return nil
	})
}

func (a *Alliances) DeclineInvitation(ctx context.Context, caller ledger.Address, colony ledger.ID) error {
	return a.update(ctx, "decline_invitation", func(tx *ledger.Tx) error {
		if err := a.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		inv, ok := tx.Invitation(colony)
		if !ok || !inv.Active {
			return ErrInvitationNotFound
		}
		inv.Active = false
		tx.PutInvitation(inv)
		tx.Emit(ledger.Event{Type: ledger.EventInvitationDeclined, Colony: colony, Alliance: inv.Alliance, Actor: caller})
		return nil
	})
}

// LeaveAlliance removes the caller. The leader may only leave last, in which
// case the alliance closes and its treasury is refunded.
func (a *Alliances) LeaveAlliance(ctx context.Context, caller ledger.Address) error {
	return a.update(ctx, "leave_alliance", func(tx *ledger.Tx) error {
		allianceID, ok := tx.AllianceOfAddress(caller)
		if !ok {
			return ErrNotMember
		}
		al, _ := tx.Alliance(allianceID)
		colony, _ := tx.MemberColony(caller)
		if colony == al.LeaderColony && len(al.Members) > 1 {
			return ErrCannotLeaveAsLeader
		}
		if _, err := tx.RemoveAllianceMember(allianceID, caller); err != nil {
			return err
		}
		al, _ = tx.Alliance(allianceID)
		al.StabilityIndex = floorSub(al.StabilityIndex, LeavePenalty)
		if len(al.Members) == 0 {
			if err := a.closeAlliance(tx, &al, caller); err != nil {
				return err
			}
		}
		if err := tx.PutAlliance(al); err != nil {
			return err
		}
		tx.PutDeparture(ledger.Departure{Alliance: allianceID, Colony: colony, Member: caller, At: tx.Now()})
		tx.Emit(ledger.Event{
			Type:     ledger.EventAllianceLeft,
			Colony:   colony,
			Alliance: allianceID,
			Actor:    caller,
			Data:     map[string]any{"stability": al.StabilityIndex, "members": len(al.Members)},
		})
		return nil
	})
}

// DisbandAlliance closes an alliance whose only member is its leader.
func (a *Alliances) DisbandAlliance(ctx context.Context, caller ledger.Address) error {
	return a.update(ctx, "disband_alliance", func(tx *ledger.Tx) error {
		allianceID, ok := tx.AllianceOfAddress(caller)
		if !ok {
			return ErrNotMember
		}
		al, _ := tx.Alliance(allianceID)
		colony, _ := tx.MemberColony(caller)
		if colony != al.LeaderColony {
			return ErrNotLeader
		}
		if len(al.Members) > 1 {
			return ErrAllianceNotEmpty
		}
		if _, err := tx.RemoveAllianceMember(allianceID, caller); err != nil {
			return err
		}
		al, _ = tx.Alliance(allianceID)
		if err := a.closeAlliance(tx, &al, caller); err != nil {
			return err
		}
		if err := tx.PutAlliance(al); err != nil {
			return err
		}
		tx.Emit(ledger.Event{Type: ledger.EventAllianceDisbanded, Colony: colony, Alliance: allianceID, Actor: caller})
		return nil
	})
}

// closeAlliance deactivates al, refunds its treasury to the last member and
// closes any open proposal. The caller stores al.
func (a *Alliances) closeAlliance(tx *ledger.Tx, al *ledger.Alliance, lastMember ledger.Address) error {
	if al.SharedTreasury > 0 {
		if err := a.disburse(tx, lastMember, al.SharedTreasury, "alliance treasury refund"); err != nil {
			return err
		}
		al.SharedTreasury = 0
	}
	al.Active = false
	if p, ok := tx.Proposal(al.ID); ok && p.Active {
		p.Active = false
		tx.PutProposal(p)
		tx.Emit(ledger.Event{Type: ledger.EventForgivenessExpired, Colony: p.BetrayerColony, Alliance: al.ID})
	}
	return nil
}

// TransferLeadership hands the leader seat to another member colony.
func (a *Alliances) TransferLeadership(ctx context.Context, caller ledger.Address, newLeader ledger.ID) error {
	return a.update(ctx, "transfer_leadership", func(tx *ledger.Tx) error {
		allianceID, ok := tx.AllianceOfAddress(caller)
		if !ok {
			return ErrNotMember
		}
		al, _ := tx.Alliance(allianceID)
		colony, _ := tx.MemberColony(caller)
		if colony != al.LeaderColony {
			return ErrNotLeader
		}
		if newLeader == al.LeaderColony {
			return ErrSameColony
		}
		if cur, ok := tx.AllianceOfColony(newLeader); !ok || cur != allianceID {
			return fmt.Errorf("%w: colony %s", ErrNotMember, newLeader.Short())
		}
		prev := al.LeaderColony
		al.LeaderColony = newLeader
		if err := tx.PutAlliance(al); err != nil {
			return err
		}
		tx.Emit(ledger.Event{
			Type:     ledger.EventLeadershipChanged,
			Colony:   newLeader,
			Alliance: allianceID,
			Actor:    caller,
			Data:     map[string]any{"previous": prev.String()},
		})
		return nil
	})
}

// Contribute deposits funds from the caller into the shared treasury.
func (a *Alliances) Contribute(ctx context.Context, caller ledger.Address, amount int64) (int64, error) {
	var treasury int64
	err := a.update(ctx, "contribute", func(tx *ledger.Tx) error {
		allianceID, ok := tx.AllianceOfAddress(caller)
		if !ok {
			return ErrNotMember
		}
		if amount <= 0 {
			return ErrInvalidAmount
		}
		al, _ := tx.Alliance(allianceID)
		if !al.Active {
			return ErrAllianceInactive
		}
		if err := a.collect(tx, caller, amount, "alliance contribution"); err != nil {
			return err
		}
		al.SharedTreasury += amount
		treasury = al.SharedTreasury
		if err := tx.PutAlliance(al); err != nil {
			return err
		}
		colony, _ := tx.MemberColony(caller)
		tx.Emit(ledger.Event{
			Type:     ledger.EventContribution,
			Colony:   colony,
			Alliance: allianceID,
			Actor:    caller,
			Data:     map[string]any{"amount": amount, "treasury": treasury},
		})
		return nil
	})
	return treasury, err
}

// SendAid moves treasury funds into a member colony's defensive stake. Only
// the leader may send aid.
func (a *Alliances) SendAid(ctx context.Context, caller ledger.Address, colony ledger.ID, amount int64) error {
	return a.update(ctx, "send_aid", func(tx *ledger.Tx) error {
		allianceID, ok := tx.AllianceOfAddress(caller)
		if !ok {
			return ErrNotMember
		}
		al, _ := tx.Alliance(allianceID)
		if own, _ := tx.MemberColony(caller); own != al.LeaderColony {
			return ErrNotLeader
		}
		if cur, ok := tx.AllianceOfColony(colony); !ok || cur != allianceID {
			return fmt.Errorf("%w: colony %s", ErrNotMember, colony.Short())
		}
		if amount <= 0 {
			return ErrInvalidAmount
		}
		if amount > al.SharedTreasury {
			return ErrInsufficientTreasury
		}
		profile, err := a.registered(tx, colony)
		if err != nil {
			return err
		}
		al.SharedTreasury -= amount
		profile.DefensiveStake += amount
		if err := tx.PutAlliance(al); err != nil {
			return err
		}
		tx.PutProfile(profile)
		tx.Emit(ledger.Event{
			Type:     ledger.EventAidSent,
			Season:   profile.Season,
			Colony:   colony,
			Alliance: allianceID,
			Actor:    caller,
			Data:     map[string]any{"amount": amount, "treasury": al.SharedTreasury},
		})
		return nil
	})
}

func (a *Alliances) Alliance(ctx context.Context, id ledger.ID) (ledger.Alliance, error) {
	var out ledger.Alliance
	err := a.view(ctx, func(tx *ledger.Tx) error {
		al, ok := tx.Alliance(id)
		if !ok {
			return ErrAllianceNotFound
		}
		out = al
		return nil
	})
	return out, err
}

func (a *Alliances) List(ctx context.Context, activeOnly bool) ([]ledger.Alliance, error) {
	out := make([]ledger.Alliance, 0)
	err := a.view(ctx, func(tx *ledger.Tx) error {
		for _, al := range tx.Alliances() {
			if activeOnly && !al.Active {
				continue
			}
			out = append(out, al)
		}
		return nil
	})
	return out, err
}

// AllianceOf returns the alliance a colony holds a seat in.
func (a *Alliances) AllianceOf(ctx context.Context, colony ledger.ID) (ledger.Alliance, error) {
	var out ledger.Alliance
	err := a.view(ctx, func(tx *ledger.Tx) error {
		id, ok := tx.AllianceOfColony(colony)
		if !ok {
			return ErrNotMember
		}
		out, _ = tx.Alliance(id)
		return nil
	})
	return out, err
}

func (a *Alliances) Invitation(ctx context.Context, colony ledger.ID) (ledger.AllianceInvitation, error) {
	var out ledger.AllianceInvitation
	err := a.view(ctx, func(tx *ledger.Tx) error {
		inv, ok := tx.Invitation(colony)
		if !ok || !inv.Active {
			return ErrInvitationNotFound
		}
		out = inv
		return nil
	})
	return out, err
}
