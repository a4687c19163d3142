package game

import (
	"context"
	"fmt"

	"colonywars/internal/ledger"
)

// Overview composes ledger, alliance and squad state into readiness and
// threat assessments, and owns the two warfare-time stake operations.
type Overview struct {
	*engine
	alliances *Alliances
	advisor   *Advisor
}

var threatDiscount = map[ThreatLevel]int{
	ThreatSafe:     100,
	ThreatLow:      100,
	ThreatMedium:   85,
	ThreatHigh:     70,
	ThreatCritical: 50,
}

const (
	maxVulnerableBeforeDiscount = 3
	vulnerableDiscountPercent   = 80
)

// assessThreat derives the threat tier from the unresolved battles of the
// season. Any raid in progress against the colony is critical.
func assessThreat(battles []ledger.Battle, colony ledger.ID) (level ThreatLevel, incoming, sieges, outgoing int) {
	raid := false
	for _, b := range battles {
		if b.Resolved {
			continue
		}
		switch {
		case b.Defender == colony:
			incoming++
			if b.Siege {
				sieges++
			} else {
				raid = true
			}
		case b.Attacker == colony:
			outgoing++
		}
	}
	switch {
	case raid:
		level = ThreatCritical
	case sieges > 2:
		level = ThreatHigh
	case sieges > 0:
		level = ThreatMedium
	case outgoing > 0:
		level = ThreatLow
	default:
		level = ThreatSafe
	}
	return level, incoming, sieges, outgoing
}

// OverallScore discounts readiness by threat tier and by the number of
// territories left without maintenance.
func OverallScore(readiness int, threat ThreatLevel, vulnerable int) int {
	score := readiness * threatDiscount[threat] / 100
	if vulnerable > maxVulnerableBeforeDiscount {
		score = score * vulnerableDiscountPercent / 100
	}
	return score
}

func (o *Overview) build(tx *ledger.Tx, colony ledger.ID) StrategicOverview {
	now := tx.Now()
	cfg := tx.Config()
	out := StrategicOverview{
		Colony:                colony,
		Threat:                ThreatSafe,
		VulnerableTerritories: []ledger.ID{},
		Recommendations:       []string{},
	}
	s, hasSeason := tx.CurrentSeason()
	if hasSeason {
		out.Season = s.ID
		out.Phase = s.Phase(now)
	} else {
		out.Phase = ledger.PhaseEnded
	}

	profile, registered := tx.Registered(colony)
	out.Registered = registered
	out.DefensiveStake = profile.DefensiveStake

	env := AdviceEnv{
		Registered:        registered,
		Phase:             string(out.Phase),
		Stake:             profile.DefensiveStake,
		MinAttackStake:    cfg.MinAttackStake,
		Reinforcements:    profile.StakeIncreases,
		MaxReinforcements: cfg.MaxReinforcements,
	}

	squad, hasSquad := tx.Squad(colony)
	hasSquad = hasSquad && squad.Active
	if hasSquad {
		synergy, unique := ComputeSynergy(tx, squad)
		out.Squad = &SquadSummary{
			Territory:         len(squad.TerritoryCards),
			Infrastructure:    len(squad.InfraCards),
			Resource:          len(squad.ResourceCards),
			SynergyBonus:      synergy,
			UniqueCollections: unique,
		}
		env.Synergy = synergy
		env.SquadSize = squad.Size()
	}

	bonus := defensiveBonuses(tx, colony)
	if bonus.SharePercent > 0 {
		if al, ok := tx.Alliance(bonus.Alliance); ok && al.Active {
			isLeader := al.LeaderColony == colony
			out.Alliance = &AllianceSummary{
				ID:             al.ID,
				Name:           al.Name,
				Members:        len(al.Members),
				StabilityIndex: al.StabilityIndex,
				SharedTreasury: al.SharedTreasury,
				IsLeader:       isLeader,
				Bonus:          bonus,
			}
			env.Allied = true
			env.Stability = al.StabilityIndex
		}
	}

	territories := tx.TerritoriesOf(colony)
	out.Territories = len(territories)
	for _, t := range vulnerableTerritories(tx, colony) {
		out.VulnerableTerritories = append(out.VulnerableTerritories, t.ID)
	}

	if hasSeason {
		out.Threat, out.IncomingAttacks, out.ActiveSieges, out.OutgoingAttacks = assessThreat(tx.BattlesInvolving(s.ID, colony), colony)
	}

	warfare := out.Phase == ledger.PhaseWarfare
	strongEnough := registered && profile.DefensiveStake >= cfg.MinAttackStake
	r := Readiness{}
	r.CanAttack = warfare && strongEnough && !inCooldown(profile.LastAttackTime, cfg.AttackCooldown, now)
	r.CanDefend = registered && (hasSquad || profile.DefensiveStake > 0)
	r.CanSiege = r.CanAttack && hasSquad && len(squad.TerritoryCards) > 0
	r.CanRaid = r.CanAttack && hasSquad
	if registered {
		r.Score += 20
	}
	if strongEnough {
		r.Score += 20
	}
	if hasSquad {
		r.Score += 20 + out.Squad.SynergyBonus*20/MaxSynergyBonus
	}
	if out.Alliance != nil {
		r.Score += out.Alliance.StabilityIndex * 20 / 100
	}
	r.Score = min(r.Score, 100)
	out.Readiness = r
	out.OverallScore = OverallScore(r.Score, out.Threat, len(out.VulnerableTerritories))

	env.Threat = string(out.Threat)
	env.Readiness = r.Score
	env.Territories = out.Territories
	env.Vulnerable = len(out.VulnerableTerritories)
	env.IncomingAttacks = out.IncomingAttacks
	env.ActiveSieges = out.ActiveSieges
	if o.advisor != nil {
		out.Recommendations = o.advisor.Advise(env)
	}
	return out
}

// ColonyStrategicOverview reports readiness, threat and advice for a colony.
// Unregistered colonies get a zero-readiness overview rather than an error.
func (o *Overview) ColonyStrategicOverview(ctx context.Context, colony ledger.ID) (StrategicOverview, error) {
	var out StrategicOverview
	err := o.view(ctx, func(tx *ledger.Tx) error {
		out = o.build(tx, colony)
		return nil
	})
	return out, err
}

// ReinforceDefensivePosition adds amount to the colony's defensive stake
// during warfare. A fifth of the amount is kept as a penalty for the prize
// pool.
func (o *Overview) ReinforceDefensivePosition(ctx context.Context, caller ledger.Address, colony ledger.ID, amount int64) (ledger.ColonyWarProfile, error) {
	var out ledger.ColonyWarProfile
	err := o.update(ctx, "reinforce_defensive_position", func(tx *ledger.Tx) error {
		if err := o.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		s, err := o.currentSeason(tx)
		if err != nil {
			return err
		}
		now := tx.Now()
		if s.Phase(now) != ledger.PhaseWarfare {
			return ErrNotWarfarePhase
		}
		profile, err := o.registered(tx, colony)
		if err != nil {
			return err
		}
		if amount <= 0 {
			return ErrInvalidAmount
		}
		cfg := tx.Config()
		if inCooldown(profile.LastReinforceTime, cfg.ReinforcementCooldown, now) {
			return fmt.Errorf("%w: next reinforcement at %s", ErrRateLimitExceeded, profile.LastReinforceTime.Add(cfg.ReinforcementCooldown).Format("15:04:05"))
		}
		if profile.StakeIncreases >= cfg.MaxReinforcements {
			return ErrReinforcementLimit
		}
		if amount > profile.DefensiveStake/2 {
			return fmt.Errorf("%w: at most %d", ErrReinforcementTooLarge, profile.DefensiveStake/2)
		}
		if err := o.collect(tx, caller, amount, "reinforcement"); err != nil {
			return err
		}
		penalty := amount * ReinforcementPenaltyPercent / 100
		if err := addToPrizePool(tx, penalty); err != nil {
			return err
		}
		profile.DefensiveStake += amount - penalty
		profile.StakeIncreases++
		profile.LastReinforceTime = now
		tx.PutProfile(profile)
		out = profile
		tx.Emit(ledger.Event{
			Type:   ledger.EventStakeReinforced,
			Season: s.ID,
			Colony: colony,
			Actor:  caller,
			Data:   map[string]any{"amount": amount, "penalty": penalty, "stake": profile.DefensiveStake},
		})
		return nil
	})
	return out, err
}

// WithdrawFromWarfare pulls a colony out of the season. Its territories are
// forfeited, the stake is refunded minus the withdrawal penalty, and pulling
// out the caller's primary colony while it holds an alliance seat counts as
// betrayal of that alliance.
func (o *Overview) WithdrawFromWarfare(ctx context.Context, caller ledger.Address, colony ledger.ID) (WithdrawalResult, error) {
	var out WithdrawalResult
	err := o.update(ctx, "withdraw_from_warfare", func(tx *ledger.Tx) error {
		if err := o.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		s, err := o.currentSeason(tx)
		if err != nil {
			return err
		}
		profile, err := o.registered(tx, colony)
		if err != nil {
			return err
		}
		territories := tx.TerritoriesOf(colony)
		penalty := WithdrawalPenalty(profile.DefensiveStake, len(territories))
		refund := profile.DefensiveStake - penalty

		for _, t := range territories {
			if err := tx.SetTerritoryController(t.ID, ledger.ZeroID); err != nil {
				return err
			}
			tx.Emit(ledger.Event{
				Type:   ledger.EventTerritoryForfeited,
				Season: s.ID,
				Colony: colony,
				Actor:  caller,
				Data:   map[string]any{"territory": t.ID.String()},
			})
		}
		if err := addToPrizePool(tx, penalty); err != nil {
			return err
		}
		owner := profile.Owner
		if owner.IsZero() {
			owner = caller
		}
		if err := o.disburse(tx, owner, refund, "warfare withdrawal"); err != nil {
			return err
		}

		betrayal := false
		if primary, ok := tx.PrimaryColony(caller); ok && primary == colony {
			if allianceID, ok := tx.AllianceOfColony(colony); ok && !tx.IsMarked(allianceID, colony) {
				if err := o.alliances.applyBetrayal(tx, allianceID, colony, caller); err != nil {
					return err
				}
				betrayal = true
			}
		}
		if err := tx.DeregisterColony(s.ID, colony); err != nil {
			return err
		}
		out = WithdrawalResult{
			Colony:      colony,
			Stake:       profile.DefensiveStake,
			Territories: len(territories),
			Penalty:     penalty,
			Refund:      refund,
			Betrayal:    betrayal,
		}
		tx.Emit(ledger.Event{
			Type:   ledger.EventColonyWithdrawn,
			Season: s.ID,
			Colony: colony,
			Actor:  caller,
			Data:   map[string]any{"penalty": penalty, "refund": refund, "territories": len(territories), "betrayal": betrayal},
		})
		return nil
	})
	return out, err
}

// squadPower is token count times average current charge, plus synergy.
func squadPower(tx *ledger.Tx, colony ledger.ID) int64 {
	p, ok := tx.Squad(colony)
	if !ok || !p.Active {
		return 0
	}
	cfg := tx.Config()
	now := tx.Now()
	var total int64
	for _, t := range p.All() {
		if pm, ok := tx.PowerCore(t); ok {
			total += int64(chargeAt(pm, now, cfg))
		}
	}
	synergy, _ := ComputeSynergy(tx, p)
	return total + int64(synergy)
}

const (
	attackerModifierPercent = 100
	defenderModifierPercent = 110
	stakePowerDivisor       = 10
)

// winProbability buckets an attacker/defender power ratio.
func winProbability(ratioPercent int64) WinProbability {
	switch {
	case ratioPercent < 50:
		return VeryUnlikely
	case ratioPercent < 85:
		return Unlikely
	case ratioPercent <= 115:
		return EvenOdds
	case ratioPercent <= 200:
		return Likely
	default:
		return VeryLikely
	}
}

// CompareBattlePower estimates the attacker's chance against a defender. It
// is advisory only.
func (o *Overview) CompareBattlePower(ctx context.Context, attacker, defender ledger.ID) (BattlePowerComparison, error) {
	var out BattlePowerComparison
	err := o.view(ctx, func(tx *ledger.Tx) error {
		if attacker == defender {
			return ErrSameColony
		}
		atkProfile, _ := tx.Registered(attacker)
		defProfile, _ := tx.Registered(defender)

		atk := squadPower(tx, attacker) + atkProfile.DefensiveStake/stakePowerDivisor
		atk = atk * int64(attackerModifierPercent+defensiveBonuses(tx, attacker).Reinforcement) / 100

		def := squadPower(tx, defender) + defProfile.DefensiveStake/stakePowerDivisor
		def = def * int64(defenderModifierPercent+defensiveBonuses(tx, defender).Total) / 100

		out = BattlePowerComparison{
			Attacker:      attacker,
			Defender:      defender,
			AttackerPower: atk,
			DefenderPower: def,
		}
		switch {
		case def > 0:
			out.RatioPercent = atk * 100 / def
		case atk > 0:
			out.RatioPercent = 1000
		default:
			out.RatioPercent = 100
		}
		out.Outcome = winProbability(out.RatioPercent)
		return nil
	})
	return out, err
}
