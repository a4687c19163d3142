package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"colonywars/internal/ledger"
	"colonywars/internal/oracle"
)

// DefaultVault is the custody address staked assets are held by.
const DefaultVault ledger.Address = "colonywars:vault"

// engine is shared by every facet. It owns no game state: all reads and
// writes go through the ledger store.
type engine struct {
	store    *ledger.Store
	auth     oracle.Authority
	debt     oracle.DebtOracle
	custody  oracle.Custody
	treasury oracle.Treasury
	log      *slog.Logger
	vault    ledger.Address
}

// update runs fn as one ledger operation and logs the commit.
func (e *engine) update(ctx context.Context, op string, fn func(tx *ledger.Tx) error) error {
	start := time.Now()
	err := e.store.Update(ctx, fn)
	if err != nil {
		e.log.Debug("operation rejected", "op", op, "err", err)
		return err
	}
	e.log.Info("operation committed", "op", op, "duration", time.Since(start))
	return nil
}

func (e *engine) view(ctx context.Context, fn func(tx *ledger.Tx) error) error {
	return e.store.View(ctx, fn)
}

func (e *engine) requireAuthorized(tx *ledger.Tx, colony ledger.ID, caller ledger.Address) error {
	ok, err := e.auth.IsAuthorizedForColony(tx.Context(), colony, caller)
	if err != nil {
		return fmt.Errorf("%w: authority: %v", ErrOracleUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotController, colony.Short())
	}
	return nil
}

func (e *engine) isCreator(tx *ledger.Tx, colony ledger.ID, caller ledger.Address) (bool, error) {
	ok, err := e.auth.IsColonyCreator(tx.Context(), colony, caller)
	if err != nil {
		return false, fmt.Errorf("%w: authority: %v", ErrOracleUnavailable, err)
	}
	return ok, nil
}

func (e *engine) requireCreator(tx *ledger.Tx, colony ledger.ID, caller ledger.Address) error {
	ok, err := e.isCreator(tx, colony, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotColonyOwner, colony.Short())
	}
	return nil
}

func requireAdmin(tx *ledger.Tx, caller ledger.Address) error {
	if caller.IsZero() || !tx.Config().IsAdmin(caller) {
		return ErrUnauthorized
	}
	return nil
}

// debtEligible consults the debt oracle. An unavailable oracle counts as
// eligible.
func (e *engine) debtEligible(tx *ledger.Tx, colony ledger.ID) bool {
	debt, err := e.debt.CurrentColonyDebt(tx.Context(), colony)
	if err != nil {
		e.log.Warn("debt oracle unavailable, treating colony as eligible", "colony", colony.Short(), "err", err)
		return true
	}
	return debt <= tx.Config().MaxJoinDebt
}

func (e *engine) currentSeason(tx *ledger.Tx) (ledger.Season, error) {
	s, ok := tx.CurrentSeason()
	if !ok {
		return ledger.Season{}, ErrNoActiveSeason
	}
	return s, nil
}

func (e *engine) registered(tx *ledger.Tx, colony ledger.ID) (ledger.ColonyWarProfile, error) {
	p, ok := tx.Registered(colony)
	if !ok {
		return ledger.ColonyWarProfile{}, fmt.Errorf("%w: %s", ErrColonyNotRegistered, colony.Short())
	}
	return p, nil
}

// collect takes amount from the payer and registers the refund as the
// rollback compensation.
func (e *engine) collect(tx *ledger.Tx, from ledger.Address, amount int64, memo string) error {
	if amount <= 0 {
		return nil
	}
	if err := e.treasury.Collect(tx.Context(), from, amount, memo); err != nil {
		if errors.Is(err, oracle.ErrInsufficientFunds) {
			return fmt.Errorf("%w: %s needs %d", ErrInsufficientFunds, memo, amount)
		}
		return fmt.Errorf("%w: treasury: %v", ErrOracleUnavailable, err)
	}
	tx.OnRollback(func(ctx context.Context) {
		if err := e.treasury.Disburse(ctx, from, amount, "reverse "+memo); err != nil {
			e.log.Error("fee reversal failed", "address", from, "amount", amount, "memo", memo, "err", err)
		}
	})
	return nil
}

func (e *engine) disburse(tx *ledger.Tx, to ledger.Address, amount int64, memo string) error {
	if amount <= 0 {
		return nil
	}
	if err := e.treasury.Disburse(tx.Context(), to, amount, memo); err != nil {
		return fmt.Errorf("%w: treasury: %v", ErrOracleUnavailable, err)
	}
	tx.OnRollback(func(ctx context.Context) {
		if err := e.treasury.Collect(ctx, to, amount, "reverse "+memo); err != nil {
			e.log.Error("refund reversal failed", "address", to, "amount", amount, "memo", memo, "err", err)
		}
	})
	return nil
}

func (e *engine) transfer(tx *ledger.Tx, token ledger.TokenRef, from, to ledger.Address) error {
	if err := e.custody.TransferCustody(tx.Context(), token, from, to); err != nil {
		return fmt.Errorf("%w: custody %s: %v", ErrOracleUnavailable, token, err)
	}
	tx.OnRollback(func(ctx context.Context) {
		if err := e.custody.TransferCustody(ctx, token, to, from); err != nil {
			e.log.Error("custody reversal failed", "token", token.String(), "err", err)
		}
	})
	return nil
}

// addToPrizePool credits the current season, if there is one.
func addToPrizePool(tx *ledger.Tx, amount int64) error {
	if amount <= 0 {
		return nil
	}
	s, ok := tx.CurrentSeason()
	if !ok {
		return nil
	}
	s.PrizePool += amount
	return tx.PutSeason(s)
}

func inCooldown(last time.Time, window time.Duration, now time.Time) bool {
	return !last.IsZero() && now.Before(last.Add(window))
}
