package game

import (
	"context"
	"fmt"

	"colonywars/internal/ledger"
)

// Admin tunes configuration and the collection registry. Every call requires
// an address listed in Config.Admins.
type Admin struct {
	*engine
}

// CollectionID derives the registry id of a collection contract.
func CollectionID(contract ledger.Address) ledger.ID {
	return ledger.NameID("collection", string(ledger.NormalizeAddress(string(contract))))
}

func (a *Admin) configChange(ctx context.Context, op string, caller ledger.Address, mutate func(tx *ledger.Tx, cfg *ledger.Config) (map[string]any, error)) (ledger.Config, error) {
	var out ledger.Config
	err := a.update(ctx, op, func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		cfg := tx.Config()
		data, err := mutate(tx, &cfg)
		if err != nil {
			return err
		}
		tx.SetConfig(cfg)
		out = cfg
		tx.Emit(ledger.Event{Type: ledger.EventConfigChanged, Actor: caller, Data: data})
		return nil
	})
	return out, err
}

// SetFee sets one entry of the fee table. Unknown keys are rejected.
func (a *Admin) SetFee(ctx context.Context, caller ledger.Address, key string, amount int64) (ledger.Config, error) {
	fee, err := ParseFeeType(key)
	if err != nil {
		return ledger.Config{}, err
	}
	return a.configChange(ctx, "set_fee", caller, func(tx *ledger.Tx, cfg *ledger.Config) (map[string]any, error) {
		if amount < 0 {
			return nil, ErrInvalidAmount
		}
		cfg.Fees[fee] = amount
		return map[string]any{"fee": fee.String(), "amount": amount}, nil
	})
}

func (a *Admin) SetMaxAllianceMembers(ctx context.Context, caller ledger.Address, n int) (ledger.Config, error) {
	return a.configChange(ctx, "set_max_alliance_members", caller, func(tx *ledger.Tx, cfg *ledger.Config) (map[string]any, error) {
		if n < 2 {
			return nil, fmt.Errorf("%w: max alliance members must be at least 2", ErrInvalidConfig)
		}
		for _, al := range tx.Alliances() {
			if al.Active && len(al.Members) > n {
				return nil, fmt.Errorf("%w: alliance %s already has %d members", ErrInvalidConfig, al.Name, len(al.Members))
			}
		}
		cfg.MaxAllianceMembers = n
		return map[string]any{"max_alliance_members": n}, nil
	})
}

func (a *Admin) RegisterCollection(ctx context.Context, caller ledger.Address, contract ledger.Address, category ledger.Category) (ledger.Collection, error) {
	var out ledger.Collection
	err := a.update(ctx, "register_collection", func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		contract = ledger.NormalizeAddress(string(contract))
		if contract.IsZero() {
			return fmt.Errorf("%w: empty contract address", ErrInvalidConfig)
		}
		if slotLimit(category) == 0 {
			return fmt.Errorf("%w: category %s", ErrInvalidConfig, category)
		}
		id := CollectionID(contract)
		if prev, ok := tx.Collection(id); ok && prev.Type != category {
			if tx.CollectionStaked(id) {
				return fmt.Errorf("%w: collection has staked assets", ErrInvalidConfig)
			}
		}
		out = ledger.Collection{ID: id, ContractAddress: contract, Type: category, Enabled: true}
		tx.PutCollection(out)
		tx.Emit(ledger.Event{
			Type:  ledger.EventCollectionRegistered,
			Actor: caller,
			Data:  map[string]any{"collection": id.String(), "contract": string(contract), "type": category.String()},
		})
		return nil
	})
	return out, err
}

func (a *Admin) SetCollectionEnabled(ctx context.Context, caller ledger.Address, id ledger.ID, enabled bool) (ledger.Collection, error) {
	var out ledger.Collection
	err := a.update(ctx, "set_collection_enabled", func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		col, ok := tx.Collection(id)
		if !ok {
			return ErrUnknownCollection
		}
		col.Enabled = enabled
		tx.PutCollection(col)
		out = col
		tx.Emit(ledger.Event{
			Type:  ledger.EventConfigChanged,
			Actor: caller,
			Data:  map[string]any{"collection": id.String(), "enabled": enabled},
		})
		return nil
	})
	return out, err
}

func (a *Admin) Collections(ctx context.Context) ([]ledger.Collection, error) {
	var out []ledger.Collection
	err := a.view(ctx, func(tx *ledger.Tx) error {
		out = tx.Collections()
		return nil
	})
	return out, err
}

func (a *Admin) Config(ctx context.Context) (ledger.Config, error) {
	var out ledger.Config
	err := a.view(ctx, func(tx *ledger.Tx) error {
		out = tx.Config()
		return nil
	})
	return out, err
}
