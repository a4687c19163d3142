package game

import (
	"context"
	"log/slog"

	"colonywars/internal/ledger"
	"colonywars/internal/oracle"
)

// Service bundles the game facets over one ledger store.
type Service struct {
	Registry    *Registry
	Alliances   *Alliances
	Squads      *Squads
	PowerCores  *PowerCores
	Territories *Territories
	Battles     *Battles
	Overview    *Overview
	Admin       *Admin

	store *ledger.Store
	log   *slog.Logger
}

type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	vault ledger.Address
	rules []Rule
}

// WithVault sets the custody address staked assets are moved to.
func WithVault(addr ledger.Address) ServiceOption {
	return func(o *serviceOptions) { o.vault = ledger.NormalizeAddress(string(addr)) }
}

// WithRules replaces the stock advisory rules.
func WithRules(rules []Rule) ServiceOption {
	return func(o *serviceOptions) { o.rules = rules }
}

func NewService(store *ledger.Store, oracles oracle.Set, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := serviceOptions{vault: DefaultVault, rules: DefaultRules()}
	for _, opt := range opts {
		opt(&o)
	}
	advisor, err := NewAdvisor(o.rules, logger)
	if err != nil {
		return nil, err
	}
	e := &engine{
		store:    store,
		auth:     oracles.Authority,
		debt:     oracles.Debt,
		custody:  oracles.Custody,
		treasury: oracles.Treasury,
		log:      logger,
		vault:    o.vault,
	}
	alliances := &Alliances{engine: e}
	return &Service{
		Registry:    &Registry{engine: e},
		Alliances:   alliances,
		Squads:      &Squads{engine: e},
		PowerCores:  &PowerCores{engine: e},
		Territories: &Territories{engine: e},
		Battles:     &Battles{engine: e},
		Overview:    &Overview{engine: e, alliances: alliances, advisor: advisor},
		Admin:       &Admin{engine: e},
		store:       store,
		log:         logger,
	}, nil
}

func (s *Service) Store() *ledger.Store { return s.store }

// Sweep closes forgiveness proposals and invitations whose windows have
// elapsed and ends the current season once its resolution phase is over.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var out SweepResult
	err := s.store.Update(ctx, func(tx *ledger.Tx) error {
		out = SweepResult{}
		now := tx.Now()
		for _, p := range tx.Proposals() {
			if p.Active && !now.Before(p.VoteEnd) {
				expireProposal(tx, p)
				out.ProposalsExpired++
			}
		}
		for _, inv := range tx.Invitations() {
			if inv.Active && !now.Before(inv.Expiry) {
				expireInvitation(tx, inv)
				out.InvitationsExpired++
			}
		}
		if cur, ok := tx.CurrentSeason(); ok && cur.Active && !now.Before(cur.ResolutionEnd) {
			if _, err := endSeason(tx, cur, ""); err != nil {
				return err
			}
			out.SeasonEnded = true
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	if out.ProposalsExpired+out.InvitationsExpired > 0 || out.SeasonEnded {
		s.log.Info("sweep closed expired state",
			"proposals", out.ProposalsExpired,
			"invitations", out.InvitationsExpired,
			"season_ended", out.SeasonEnded,
		)
	}
	return out, nil
}

// Events returns committed events after seq.
func (s *Service) Events(after uint64, limit int) []ledger.Event {
	return s.store.Events(after, limit)
}
