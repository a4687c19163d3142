package game

import (
	"time"

	"colonywars/internal/ledger"
)

// SynergyBonus scores a squad composition. It depends only on the slot
// counts and the charge percentages of the staked assets, and lies in
// [0, MaxSynergyBonus].
func SynergyBonus(territory, infra, resource int, chargePercents []int) int {
	if territory+infra+resource == 0 {
		return 0
	}
	bonus := 50
	bonus += min(territory*30, 90)
	bonus += min(infra*20, 100)
	bonus += min(resource*15, 60)
	if territory == MaxTerritoryCards && infra == MaxInfraCards && resource == MaxResourceCards {
		bonus += 100
	}
	bonus += min(averageCharge(chargePercents)/10*10, 100)
	return min(bonus, MaxSynergyBonus)
}

// averageCharge is the mean of the non-zero charge percentages.
func averageCharge(percents []int) int {
	sum, n := 0, 0
	for _, p := range percents {
		if p > 0 {
			sum += p
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// ComputeSynergy derives synergy and collection diversity of a position from
// its current composition and the current charge of its power cores.
func ComputeSynergy(tx *ledger.Tx, p ledger.SquadStakePosition) (synergy, uniqueCollections int) {
	cfg := tx.Config()
	now := tx.Now()
	charges := make([]int, 0, p.Size())
	seen := map[ledger.ID]bool{}
	for _, t := range p.All() {
		seen[t.Collection] = true
		if pm, ok := tx.PowerCore(t); ok {
			charges = append(charges, chargePercent(pm, now, cfg))
		}
	}
	return SynergyBonus(len(p.TerritoryCards), len(p.InfraCards), len(p.ResourceCards), charges), len(seen)
}

// chargeAt regenerates a power core up to now: ChargeRegenPerHour per whole
// elapsed hour, scaled down by fatigue and by the event multiplier.
func chargeAt(pm ledger.PowerMatrix, now time.Time, cfg ledger.Config) int {
	if pm.LastChargeTime.IsZero() || !now.After(pm.LastChargeTime) {
		return min(pm.CurrentCharge, pm.MaxCharge)
	}
	hours := int64(now.Sub(pm.LastChargeTime) / time.Hour)
	fatigue := int64(min(max(pm.Fatigue, 0), 100))
	regen := hours * int64(cfg.ChargeRegenPerHour) * (100 - fatigue) / 100 * int64(cfg.ChargeEventMultiplierBps) / 10_000
	charge := int64(pm.CurrentCharge) + regen
	if charge > int64(pm.MaxCharge) {
		charge = int64(pm.MaxCharge)
	}
	return int(charge)
}

func chargePercent(pm ledger.PowerMatrix, now time.Time, cfg ledger.Config) int {
	if pm.MaxCharge <= 0 {
		return 0
	}
	return chargeAt(pm, now, cfg) * 100 / pm.MaxCharge
}
