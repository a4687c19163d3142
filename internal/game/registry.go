package game

import (
	"context"
	"fmt"

	"colonywars/internal/ledger"
)

// Registry answers who controls a colony and manages seasons and colony
// registration.
type Registry struct {
	*engine
}

func (r *Registry) IsColonyCreator(ctx context.Context, colony ledger.ID, addr ledger.Address) (bool, error) {
	ok, err := r.auth.IsColonyCreator(ctx, colony, addr)
	if err != nil {
		return false, fmt.Errorf("%w: authority: %v", ErrOracleUnavailable, err)
	}
	return ok, nil
}

func (r *Registry) IsAuthorizedForColony(ctx context.Context, colony ledger.ID, addr ledger.Address) (bool, error) {
	ok, err := r.auth.IsAuthorizedForColony(ctx, colony, addr)
	if err != nil {
		return false, fmt.Errorf("%w: authority: %v", ErrOracleUnavailable, err)
	}
	return ok, nil
}

func (r *Registry) StartSeason(ctx context.Context, caller ledger.Address, in SeasonInput) (ledger.Season, error) {
	var out ledger.Season
	err := r.update(ctx, "start_season", func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		if in.Registration <= 0 || in.Warfare <= 0 || in.Resolution <= 0 {
			return ErrInvalidSeason
		}
		if in.PrizePool < 0 {
			return ErrInvalidAmount
		}
		now := tx.Now()
		if cur, ok := tx.CurrentSeason(); ok && cur.Phase(now) != ledger.PhaseEnded {
			return fmt.Errorf("%w: season %d is in %s", ErrSeasonActive, cur.ID, cur.Phase(now))
		}
		start := in.Start
		if start.IsZero() {
			start = now
		}
		start = start.UTC()
		out = tx.AppendSeason(ledger.Season{
			StartTime:       start,
			RegistrationEnd: start.Add(in.Registration),
			WarfareEnd:      start.Add(in.Registration + in.Warfare),
			ResolutionEnd:   start.Add(in.Registration + in.Warfare + in.Resolution),
			PrizePool:       in.PrizePool,
		})
		tx.Emit(ledger.Event{
			Type:   ledger.EventSeasonStarted,
			Season: out.ID,
			Actor:  caller,
			Data:   map[string]any{"start": out.StartTime, "resolution_end": out.ResolutionEnd},
		})
		return nil
	})
	return out, err
}

func (r *Registry) EndSeason(ctx context.Context, caller ledger.Address) (ledger.Season, error) {
	var out ledger.Season
	err := r.update(ctx, "end_season", func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		s, err := r.currentSeason(tx)
		if err != nil {
			return err
		}
		out, err = endSeason(tx, s, caller)
		return err
	})
	return out, err
}

func endSeason(tx *ledger.Tx, s ledger.Season, actor ledger.Address) (ledger.Season, error) {
	s.Active = false
	if err := tx.PutSeason(s); err != nil {
		return s, err
	}
	tx.Emit(ledger.Event{
		Type:   ledger.EventSeasonEnded,
		Season: s.ID,
		Actor:  actor,
		Data:   map[string]any{"prize_pool": s.PrizePool, "colonies": len(s.RegisteredColonies)},
	})
	return s, nil
}

func (r *Registry) CurrentSeason(ctx context.Context) (ledger.Season, error) {
	var out ledger.Season
	err := r.view(ctx, func(tx *ledger.Tx) error {
		s, err := r.currentSeason(tx)
		out = s
		return err
	})
	return out, err
}

// RegisterColony enters a colony into the current season during its
// registration phase. The registration fee goes to the prize pool and the
// stake becomes the colony's defensive stake.
func (r *Registry) RegisterColony(ctx context.Context, caller ledger.Address, colony ledger.ID, stake int64) (ledger.ColonyWarProfile, error) {
	var out ledger.ColonyWarProfile
	err := r.update(ctx, "register_colony", func(tx *ledger.Tx) error {
		if err := r.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		s, err := r.currentSeason(tx)
		if err != nil {
			return err
		}
		if s.Phase(tx.Now()) != ledger.PhaseRegistration {
			return ErrRegistrationClosed
		}
		if _, ok := tx.Registered(colony); ok {
			return ErrAlreadyRegistered
		}
		cfg := tx.Config()
		if stake < cfg.MinRegistrationStake {
			return fmt.Errorf("%w: minimum %d", ErrStakeTooLow, cfg.MinRegistrationStake)
		}
		fee := cfg.Fees[ledger.FeeSeasonRegistration]
		if err := r.collect(tx, caller, fee+stake, "season registration"); err != nil {
			return err
		}
		out = ledger.ColonyWarProfile{
			Colony:         colony,
			Season:         s.ID,
			Owner:          caller,
			Registered:     true,
			DefensiveStake: stake,
		}
		if err := tx.RegisterColony(out); err != nil {
			return err
		}
		if err := addToPrizePool(tx, fee); err != nil {
			return err
		}
		if _, ok := tx.PrimaryColony(caller); !ok {
			tx.SetPrimaryColony(caller, colony)
		}
		tx.Emit(ledger.Event{
			Type:   ledger.EventColonyRegistered,
			Season: s.ID,
			Colony: colony,
			Actor:  caller,
			Data:   map[string]any{"stake": stake, "fee": fee},
		})
		return nil
	})
	return out, err
}

func (r *Registry) SetPrimaryColony(ctx context.Context, caller ledger.Address, colony ledger.ID) error {
	return r.update(ctx, "set_primary_colony", func(tx *ledger.Tx) error {
		if err := r.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		if cur, ok := tx.PrimaryColony(caller); ok && cur == colony {
			return nil
		}
		tx.SetPrimaryColony(caller, colony)
		tx.Emit(ledger.Event{Type: ledger.EventPrimaryColonySet, Colony: colony, Actor: caller})
		return nil
	})
}

func (r *Registry) PrimaryColony(ctx context.Context, addr ledger.Address) (ledger.ID, error) {
	var out ledger.ID
	err := r.view(ctx, func(tx *ledger.Tx) error {
		c, ok := tx.PrimaryColony(addr)
		if !ok {
			return ErrNoPrimaryColony
		}
		out = c
		return nil
	})
	return out, err
}

// Profile returns the colony's profile in the current season.
func (r *Registry) Profile(ctx context.Context, colony ledger.ID) (ledger.ColonyWarProfile, error) {
	var out ledger.ColonyWarProfile
	err := r.view(ctx, func(tx *ledger.Tx) error {
		p, err := r.registered(tx, colony)
		out = p
		return err
	})
	return out, err
}
