package game

import (
	"context"
	"fmt"

	"colonywars/internal/ledger"
)

const (
	victoryReputation = 10
	defeatReputation  = 5
)

// Battles records declared battles and their outcomes. Combat itself is
// resolved elsewhere; this facet only tracks what threat assessment needs.
type Battles struct {
	*engine
}

func allied(tx *ledger.Tx, a, b ledger.ID) bool {
	allianceA, shareA := colonyShare(tx, a)
	allianceB, shareB := colonyShare(tx, b)
	return shareA > 0 && shareB > 0 && allianceA == allianceB
}

// Declare opens a battle. A zero territory declares a raid; otherwise the
// battle is a siege on a territory the defender controls.
func (b *Battles) Declare(ctx context.Context, caller ledger.Address, attacker, defender, territory ledger.ID) (ledger.Battle, error) {
	var out ledger.Battle
	err := b.update(ctx, "declare_battle", func(tx *ledger.Tx) error {
		if err := b.requireAuthorized(tx, attacker, caller); err != nil {
			return err
		}
		s, err := b.currentSeason(tx)
		if err != nil {
			return err
		}
		now := tx.Now()
		if s.Phase(now) != ledger.PhaseWarfare {
			return ErrNotWarfarePhase
		}
		if attacker == defender {
			return ErrSameColony
		}
		atk, err := b.registered(tx, attacker)
		if err != nil {
			return err
		}
		if _, err := b.registered(tx, defender); err != nil {
			return err
		}
		cfg := tx.Config()
		if atk.DefensiveStake < cfg.MinAttackStake {
			return fmt.Errorf("%w: attacking needs %d", ErrStakeTooLow, cfg.MinAttackStake)
		}
		if inCooldown(atk.LastAttackTime, cfg.AttackCooldown, now) {
			return fmt.Errorf("%w: until %s", ErrAttackCooldown, atk.LastAttackTime.Add(cfg.AttackCooldown).Format("2006-01-02 15:04"))
		}
		if allied(tx, attacker, defender) {
			return ErrAlliedTarget
		}
		siege := !territory.IsZero()
		if siege {
			terr, ok := tx.Territory(territory)
			if !ok {
				return ErrTerritoryNotFound
			}
			if terr.ControllingColony != defender {
				return ErrNotTerritoryController
			}
		}
		atk.LastAttackTime = now
		tx.PutProfile(atk)
		out = ledger.Battle{
			ID:        tx.NextBattleID(s.ID),
			Season:    s.ID,
			Attacker:  attacker,
			Defender:  defender,
			Territory: territory,
			Siege:     siege,
			StartedAt: now,
		}
		tx.PutBattle(out)
		tx.Emit(ledger.Event{
			Type:   ledger.EventBattleDeclared,
			Season: s.ID,
			Colony: attacker,
			Actor:  caller,
			Data:   map[string]any{"battle": out.ID.String(), "defender": defender.String(), "siege": siege},
		})
		return nil
	})
	return out, err
}

// Resolve closes a battle with the externally decided outcome. An attacker
// that wins a siege takes the territory.
func (b *Battles) Resolve(ctx context.Context, caller ledger.Address, battle ledger.ID, attackerWon bool) (ledger.Battle, error) {
	var out ledger.Battle
	err := b.update(ctx, "resolve_battle", func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		bt, ok := tx.Battle(battle)
		if !ok {
			return ErrBattleNotFound
		}
		if bt.Resolved {
			return ErrBattleResolved
		}
		bt.Resolved = true
		bt.AttackerWon = attackerWon
		bt.ResolvedAt = tx.Now()
		tx.PutBattle(bt)

		winner, loser := bt.Defender, bt.Attacker
		if attackerWon {
			winner, loser = bt.Attacker, bt.Defender
		}
		adjustReputation(tx, bt.Season, winner, victoryReputation)
		adjustReputation(tx, bt.Season, loser, -defeatReputation)

		if bt.Siege && attackerWon {
			if terr, ok := tx.Territory(bt.Territory); ok && terr.ControllingColony == bt.Defender {
				if err := tx.SetTerritoryController(bt.Territory, bt.Attacker); err != nil {
					return err
				}
				terr, _ = tx.Territory(bt.Territory)
				terr.LastMaintenancePayment = tx.Now()
				tx.PutTerritory(terr)
			}
		}
		out = bt
		tx.Emit(ledger.Event{
			Type:   ledger.EventBattleResolved,
			Season: bt.Season,
			Colony: winner,
			Actor:  caller,
			Data:   map[string]any{"battle": bt.ID.String(), "attacker_won": attackerWon},
		})
		return nil
	})
	return out, err
}

func adjustReputation(tx *ledger.Tx, season uint64, colony ledger.ID, delta int64) {
	p, ok := tx.Profile(season, colony)
	if !ok {
		return
	}
	p.Reputation += delta
	tx.PutProfile(p)
}

func (b *Battles) Battle(ctx context.Context, id ledger.ID) (ledger.Battle, error) {
	var out ledger.Battle
	err := b.view(ctx, func(tx *ledger.Tx) error {
		bt, ok := tx.Battle(id)
		if !ok {
			return ErrBattleNotFound
		}
		out = bt
		return nil
	})
	return out, err
}

// Involving lists the current season's battles of a colony.
func (b *Battles) Involving(ctx context.Context, colony ledger.ID) ([]ledger.Battle, error) {
	var out []ledger.Battle
	err := b.view(ctx, func(tx *ledger.Tx) error {
		s, err := b.currentSeason(tx)
		if err != nil {
			return err
		}
		out = tx.BattlesInvolving(s.ID, colony)
		return nil
	})
	return out, err
}
