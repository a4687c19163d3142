package game

import (
	"context"
	"fmt"
	"slices"

	"colonywars/internal/ledger"
)

// Squads manages per-colony staked squads: custody of the assets, their
// power-core locks and the squad's synergy bonus.
type Squads struct {
	*engine
}

func slotLimit(c ledger.Category) int {
	switch c {
	case ledger.CategoryTerritory:
		return MaxTerritoryCards
	case ledger.CategoryInfrastructure:
		return MaxInfraCards
	case ledger.CategoryResource:
		return MaxResourceCards
	default:
		return 0
	}
}

// validateAsset runs the staking checks for one asset, in order. Nothing is
// written.
func (s *Squads) validateAsset(tx *ledger.Tx, caller ledger.Address, colony ledger.ID, token ledger.TokenRef, category ledger.Category) error {
	col, ok := tx.Collection(token.Collection)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotRegistered, token.Collection.Short())
	}
	if !col.Enabled {
		return fmt.Errorf("%w: %s", ErrCollectionDisabled, token.Collection.Short())
	}
	if col.Type != category {
		return fmt.Errorf("%w: %s is %s, slot is %s", ErrCategoryMismatch, token, col.Type, category)
	}
	if _, ok := tx.Stake(token); ok {
		return fmt.Errorf("%w: %s", ErrAssetAlreadyStaked, token)
	}
	owner, err := s.custody.OwnerOf(tx.Context(), token)
	if err != nil {
		return fmt.Errorf("%w: custody: %v", ErrOracleUnavailable, err)
	}
	if owner != caller {
		return fmt.Errorf("%w: %s", ErrNotAssetOwner, token)
	}
	if err := s.requireAuthorized(tx, colony, caller); err != nil {
		return err
	}
	pm, ok := tx.PowerCore(token)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPowerCoreMissing, token)
	}
	cfg := tx.Config()
	if pct := chargePercent(pm, tx.Now(), cfg); pct < cfg.MinStakeChargePercent {
		return fmt.Errorf("%w: %s at %d%%, need %d%%", ErrChargeTooLow, token, pct, cfg.MinStakeChargePercent)
	}
	return nil
}

// take moves a validated asset into the vault, records the stake and
// locks its power core.
func (s *Squads) take(tx *ledger.Tx, caller ledger.Address, colony ledger.ID, item squadItem) error {
	if err := s.transfer(tx, item.token, caller, s.vault); err != nil {
		return err
	}
	if err := tx.PutStake(ledger.StakeRecord{
		Token:    item.token,
		Category: item.category,
		Colony:   colony,
		Staker:   caller,
		StakedAt: tx.Now(),
	}); err != nil {
		return err
	}
	pm, _ := tx.PowerCore(item.token)
	pm.Flags |= ledger.FlagStakedLock
	tx.PutPowerCore(pm)
	return nil
}

// release returns an asset to its staker and clears every trace of the
// stake. Resource assets get their unstake hook first when hook is set.
func (s *Squads) release(tx *ledger.Tx, token ledger.TokenRef, hook bool) (ledger.StakeRecord, error) {
	rec, ok := tx.Stake(token)
	if !ok {
		return rec, fmt.Errorf("%w: %s", ErrAssetNotInSquad, token)
	}
	if hook && rec.Category == ledger.CategoryResource {
		if err := s.custody.UnstakeHook(tx.Context(), token); err != nil {
			return rec, fmt.Errorf("%w: unstake hook %s: %v", ErrOracleUnavailable, token, err)
		}
	}
	if err := s.transfer(tx, token, s.vault, rec.Staker); err != nil {
		return rec, err
	}
	tx.DeleteStake(token)
	if pm, ok := tx.PowerCore(token); ok {
		pm.Flags &^= ledger.FlagStakedLock
		tx.PutPowerCore(pm)
	}
	return rec, nil
}

// store recomputes synergy and saves the position, or deletes it when the
// squad is empty.
func (s *Squads) store(tx *ledger.Tx, p ledger.SquadStakePosition, actor ledger.Address) ledger.SquadStakePosition {
	if p.Size() == 0 {
		tx.DeleteSquad(p.Colony)
		tx.Emit(ledger.Event{Type: ledger.EventSquadUnstaked, Colony: p.Colony, Actor: actor})
		return ledger.SquadStakePosition{Colony: p.Colony}
	}
	prev := p.TotalSynergyBonus
	p.TotalSynergyBonus, p.UniqueCollectionsCount = ComputeSynergy(tx, p)
	tx.PutSquad(p)
	if prev != p.TotalSynergyBonus {
		tx.Emit(ledger.Event{
			Type:   ledger.EventSynergyUpdated,
			Colony: p.Colony,
			Data:   map[string]any{"synergy": p.TotalSynergyBonus, "previous": prev, "collections": p.UniqueCollectionsCount},
		})
	}
	return p
}

// StakeSquad stakes a full squad for colony in one operation.
func (s *Squads) StakeSquad(ctx context.Context, caller ledger.Address, colony ledger.ID, in SquadInput) (ledger.SquadStakePosition, error) {
	var out ledger.SquadStakePosition
	err := s.update(ctx, "stake_squad", func(tx *ledger.Tx) error {
		if err := s.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		if cur, ok := tx.Squad(colony); ok && cur.Active {
			return ErrSquadAlreadyStaked
		}
		items := in.items()
		if len(items) == 0 {
			return ErrEmptySquad
		}
		if len(in.Territory) > MaxTerritoryCards || len(in.Infrastructure) > MaxInfraCards || len(in.Resource) > MaxResourceCards {
			return ErrSquadSlotFull
		}
		seen := map[ledger.ID]bool{}
		for _, it := range items {
			key := it.token.Key()
			if seen[key] {
				return fmt.Errorf("%w: %s", ErrDuplicateAsset, it.token)
			}
			seen[key] = true
		}
		for _, it := range items {
			if err := s.validateAsset(tx, caller, colony, it.token, it.category); err != nil {
				return err
			}
		}

		fee := tx.Config().Fees[ledger.FeeSquadStake]
		if err := s.collect(tx, caller, fee, "squad stake"); err != nil {
			return err
		}
		if err := addToPrizePool(tx, fee); err != nil {
			return err
		}
		p := ledger.SquadStakePosition{Colony: colony, StakedAt: tx.Now(), Active: true}
		for _, it := range items {
			if err := s.take(tx, caller, colony, it); err != nil {
				return err
			}
			cards := p.Cards(it.category)
			*cards = append(*cards, it.token)
		}
		tx.Emit(ledger.Event{
			Type:   ledger.EventSquadStaked,
			Colony: colony,
			Actor:  caller,
			Data:   map[string]any{"territory": len(p.TerritoryCards), "infrastructure": len(p.InfraCards), "resource": len(p.ResourceCards)},
		})
		out = s.store(tx, p, caller)
		return nil
	})
	return out, err
}

// AddSquadItem stakes one more asset into an active squad.
func (s *Squads) AddSquadItem(ctx context.Context, caller ledger.Address, colony ledger.ID, category ledger.Category, token ledger.TokenRef) (ledger.SquadStakePosition, error) {
	var out ledger.SquadStakePosition
	err := s.update(ctx, "add_squad_item", func(tx *ledger.Tx) error {
		if err := s.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		p, ok := tx.Squad(colony)
		if !ok || !p.Active {
			return ErrNoActiveSquad
		}
		if slotLimit(category) == 0 {
			return fmt.Errorf("%w: %s", ErrCategoryMismatch, category)
		}
		if len(*p.Cards(category)) >= slotLimit(category) {
			return fmt.Errorf("%w: %s", ErrSquadSlotFull, category)
		}
		if err := s.validateAsset(tx, caller, colony, token, category); err != nil {
			return err
		}
		if err := s.take(tx, caller, colony, squadItem{token, category}); err != nil {
			return err
		}
		cards := p.Cards(category)
		*cards = append(*cards, token)
		tx.Emit(ledger.Event{
			Type:   ledger.EventSquadMemberAdded,
			Colony: colony,
			Actor:  caller,
			Data:   map[string]any{"token": token.String(), "category": category.String()},
		})
		out = s.store(tx, p, caller)
		return nil
	})
	return out, err
}

func removeCard(p *ledger.SquadStakePosition, category ledger.Category, token ledger.TokenRef) bool {
	cards := p.Cards(category)
	idx := slices.Index(*cards, token)
	if idx < 0 {
		return false
	}
	*cards = slices.Delete(*cards, idx, idx+1)
	if len(*cards) == 0 {
		*cards = nil
	}
	return true
}

// RemoveSquadItem returns one asset to its staker. Removing the last asset
// unstakes the squad.
func (s *Squads) RemoveSquadItem(ctx context.Context, caller ledger.Address, colony ledger.ID, token ledger.TokenRef) (ledger.SquadStakePosition, error) {
	var out ledger.SquadStakePosition
	err := s.update(ctx, "remove_squad_item", func(tx *ledger.Tx) error {
		if err := s.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		p, ok := tx.Squad(colony)
		if !ok || !p.Active {
			return ErrNoActiveSquad
		}
		rec, ok := tx.Stake(token)
		if !ok || rec.Colony != colony || !removeCard(&p, rec.Category, token) {
			return fmt.Errorf("%w: %s", ErrAssetNotInSquad, token)
		}
		if _, err := s.release(tx, token, false); err != nil {
			return err
		}
		tx.Emit(ledger.Event{
			Type:   ledger.EventSquadMemberRemoved,
			Colony: colony,
			Actor:  caller,
			Data:   map[string]any{"token": token.String(), "category": rec.Category.String()},
		})
		out = s.store(tx, p, caller)
		return nil
	})
	return out, err
}

// SwapSquadItem replaces one staked asset with another of the same category
// in a single operation, so the squad never exceeds its slot limits.
func (s *Squads) SwapSquadItem(ctx context.Context, caller ledger.Address, colony ledger.ID, outgoing, incoming ledger.TokenRef) (ledger.SquadStakePosition, error) {
	var out ledger.SquadStakePosition
	err := s.update(ctx, "swap_squad_item", func(tx *ledger.Tx) error {
		if err := s.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		p, ok := tx.Squad(colony)
		if !ok || !p.Active {
			return ErrNoActiveSquad
		}
		rec, ok := tx.Stake(outgoing)
		if !ok || rec.Colony != colony {
			return fmt.Errorf("%w: %s", ErrAssetNotInSquad, outgoing)
		}
		if outgoing == incoming {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, incoming)
		}
		if err := s.validateAsset(tx, caller, colony, incoming, rec.Category); err != nil {
			return err
		}
		cards := p.Cards(rec.Category)
		idx := slices.Index(*cards, outgoing)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrAssetNotInSquad, outgoing)
		}
		if _, err := s.release(tx, outgoing, false); err != nil {
			return err
		}
		if err := s.take(tx, caller, colony, squadItem{incoming, rec.Category}); err != nil {
			return err
		}
		(*cards)[idx] = incoming
		tx.Emit(ledger.Event{
			Type:   ledger.EventSquadMemberSwapped,
			Colony: colony,
			Actor:  caller,
			Data:   map[string]any{"out": outgoing.String(), "in": incoming.String(), "category": rec.Category.String()},
		})
		out = s.store(tx, p, caller)
		return nil
	})
	return out, err
}

// UnstakeSquad returns every asset of the squad and removes the position.
func (s *Squads) UnstakeSquad(ctx context.Context, caller ledger.Address, colony ledger.ID) error {
	return s.update(ctx, "unstake_squad", func(tx *ledger.Tx) error {
		if err := s.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		p, ok := tx.Squad(colony)
		if !ok || !p.Active {
			return ErrNoActiveSquad
		}
		for _, t := range p.All() {
			if _, err := s.release(tx, t, false); err != nil {
				return err
			}
		}
		tx.DeleteSquad(colony)
		tx.Emit(ledger.Event{Type: ledger.EventSquadUnstaked, Colony: colony, Actor: caller, Data: map[string]any{"assets": p.Size()}})
		return nil
	})
}

// EmergencyUnstake is the admin path: no ownership re-verification, resource
// assets go through their unstake hook before custody is returned.
func (s *Squads) EmergencyUnstake(ctx context.Context, caller ledger.Address, colony ledger.ID) error {
	return s.update(ctx, "emergency_unstake", func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		p, ok := tx.Squad(colony)
		if !ok || !p.Active {
			return ErrNoActiveSquad
		}
		for _, t := range p.All() {
			if _, err := s.release(tx, t, true); err != nil {
				return err
			}
		}
		tx.DeleteSquad(colony)
		tx.Emit(ledger.Event{Type: ledger.EventSquadEmergencyUnstaked, Colony: colony, Actor: caller, Data: map[string]any{"assets": p.Size()}})
		return nil
	})
}

func (s *Squads) Squad(ctx context.Context, colony ledger.ID) (ledger.SquadStakePosition, error) {
	var out ledger.SquadStakePosition
	err := s.view(ctx, func(tx *ledger.Tx) error {
		p, ok := tx.Squad(colony)
		if !ok || !p.Active {
			return ErrNoActiveSquad
		}
		out = p
		return nil
	})
	return out, err
}

// Synergy recomputes the colony's squad synergy against the current charge
// levels without storing it.
func (s *Squads) Synergy(ctx context.Context, colony ledger.ID) (int, error) {
	var out int
	err := s.view(ctx, func(tx *ledger.Tx) error {
		p, ok := tx.Squad(colony)
		if !ok || !p.Active {
			return ErrNoActiveSquad
		}
		out, _ = ComputeSynergy(tx, p)
		return nil
	})
	return out, err
}
