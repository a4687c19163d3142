package game

import (
	"context"

	"colonywars/internal/ledger"
)

const (
	SecondaryColonySharePercent = 35
	maxDefensiveBonus           = 50
)

// allianceBonus is the tiered bonus an alliance grants its primary colonies.
func allianceBonus(al ledger.Alliance) (base, reinforcement, treasury int) {
	members := len(al.Members)
	base = min(members*5, 25)
	switch {
	case al.StabilityIndex >= 80:
		base += 25
	case al.StabilityIndex >= 60:
		base += 15
	case al.StabilityIndex >= 40:
		base += 10
	}
	base -= min(al.BetrayalCount*5, 25)
	if base < 0 {
		base = 0
	}
	reinforcement = min(members*4, 20)
	treasury = int(min(al.SharedTreasury/1000, 20))
	if al.StabilityIndex < 30 {
		base /= 2
		reinforcement /= 2
		treasury /= 2
	}
	if base > maxDefensiveBonus {
		base = maxDefensiveBonus
	}
	return base, reinforcement, treasury
}

// colonyShare is the percentage of the alliance bonus a colony receives: 100
// for the seated or primary colony of a member, 35 for its other registered
// colonies, 0 otherwise.
func colonyShare(tx *ledger.Tx, colony ledger.ID) (ledger.ID, int) {
	if id, ok := tx.AllianceOfColony(colony); ok {
		return id, 100
	}
	profile, ok := tx.Registered(colony)
	if !ok {
		return ledger.ZeroID, 0
	}
	id, ok := tx.AllianceOfAddress(profile.Owner)
	if !ok {
		return ledger.ZeroID, 0
	}
	if primary, ok := tx.PrimaryColony(profile.Owner); ok && primary == colony {
		return id, 100
	}
	return id, SecondaryColonySharePercent
}

func defensiveBonuses(tx *ledger.Tx, colony ledger.ID) DefensiveBonus {
	allianceID, share := colonyShare(tx, colony)
	out := DefensiveBonus{Colony: colony, Alliance: allianceID, SharePercent: share}
	if share == 0 {
		return out
	}
	al, ok := tx.Alliance(allianceID)
	if !ok || !al.Active {
		return DefensiveBonus{Colony: colony}
	}
	base, reinforcement, treasury := allianceBonus(al)
	out.Base = base * share / 100
	out.Reinforcement = reinforcement * share / 100
	out.Treasury = treasury * share / 100
	out.Total = out.Base + out.Reinforcement + out.Treasury
	return out
}

// DefensiveBonuses reports the alliance defensive bonus a colony receives.
func (a *Alliances) DefensiveBonuses(ctx context.Context, colony ledger.ID) (DefensiveBonus, error) {
	var out DefensiveBonus
	err := a.view(ctx, func(tx *ledger.Tx) error {
		out = defensiveBonuses(tx, colony)
		return nil
	})
	return out, err
}
