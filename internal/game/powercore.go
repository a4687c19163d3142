package game

import (
	"context"
	"fmt"

	"colonywars/internal/ledger"
)

// PowerCores exposes the charge subsystem the squad engine gates on.
type PowerCores struct {
	*engine
}

// Charge returns the power core with its charge regenerated to now. The
// stored value is not changed.
func (p *PowerCores) Charge(ctx context.Context, token ledger.TokenRef) (ledger.PowerMatrix, error) {
	var out ledger.PowerMatrix
	err := p.view(ctx, func(tx *ledger.Tx) error {
		pm, ok := tx.PowerCore(token)
		if !ok {
			return ErrPowerCoreMissing
		}
		pm.CurrentCharge = chargeAt(pm, tx.Now(), tx.Config())
		out = pm
		return nil
	})
	return out, err
}

func (p *PowerCores) Install(ctx context.Context, caller ledger.Address, token ledger.TokenRef, maxCharge, charge, fatigue int) (ledger.PowerMatrix, error) {
	var out ledger.PowerMatrix
	err := p.update(ctx, "install_power_core", func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		if maxCharge <= 0 || charge < 0 || charge > maxCharge || fatigue < 0 || fatigue > 100 {
			return ErrInvalidPowerCore
		}
		if prev, ok := tx.PowerCore(token); ok && prev.Locked() {
			return ErrPowerCoreLocked
		}
		out = ledger.PowerMatrix{
			Token:          token,
			CurrentCharge:  charge,
			MaxCharge:      maxCharge,
			LastChargeTime: tx.Now(),
			Fatigue:        fatigue,
		}
		tx.PutPowerCore(out)
		tx.Emit(ledger.Event{
			Type:  ledger.EventPowerCoreInstalled,
			Actor: caller,
			Data:  map[string]any{"token": token.String(), "max_charge": maxCharge, "charge": charge},
		})
		return nil
	})
	return out, err
}

// Consume spends charge on behalf of the asset holder. Staked assets are
// locked and cannot spend charge.
func (p *PowerCores) Consume(ctx context.Context, caller ledger.Address, token ledger.TokenRef, amount int) (ledger.PowerMatrix, error) {
	var out ledger.PowerMatrix
	err := p.update(ctx, "consume_charge", func(tx *ledger.Tx) error {
		owner, err := p.custody.OwnerOf(tx.Context(), token)
		if err != nil {
			return fmt.Errorf("%w: custody: %v", ErrOracleUnavailable, err)
		}
		if owner != caller {
			return ErrNotAssetOwner
		}
		if amount <= 0 {
			return ErrInvalidAmount
		}
		pm, ok := tx.PowerCore(token)
		if !ok {
			return ErrPowerCoreMissing
		}
		if pm.Locked() {
			return ErrPowerCoreLocked
		}
		now := tx.Now()
		charge := chargeAt(pm, now, tx.Config())
		if charge < amount {
			return fmt.Errorf("%w: have %d need %d", ErrChargeTooLow, charge, amount)
		}
		pm.CurrentCharge = charge - amount
		pm.LastChargeTime = now
		tx.PutPowerCore(pm)
		out = pm
		tx.Emit(ledger.Event{
			Type:  ledger.EventPowerCoreConsumed,
			Actor: caller,
			Data:  map[string]any{"token": token.String(), "amount": amount, "remaining": pm.CurrentCharge},
		})
		return nil
	})
	return out, err
}
