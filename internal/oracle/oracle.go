// Package oracle defines the external collaborators the strategic layer
// consults: colony authority, colony debt, asset custody and the fee treasury.
package oracle

import (
	"context"
	"errors"

	"colonywars/internal/ledger"
)

var (
	ErrUnavailable       = errors.New("oracle unavailable")
	ErrRejected          = errors.New("oracle rejected request")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Authority resolves who controls a colony.
type Authority interface {
	IsColonyCreator(ctx context.Context, colony ledger.ID, addr ledger.Address) (bool, error)
	IsAuthorizedForColony(ctx context.Context, colony ledger.ID, addr ledger.Address) (bool, error)
}

type DebtOracle interface {
	CurrentColonyDebt(ctx context.Context, colony ledger.ID) (int64, error)
}

// Custody moves stakeable assets. UnstakeHook is only meaningful for
// resource collections.
type Custody interface {
	OwnerOf(ctx context.Context, token ledger.TokenRef) (ledger.Address, error)
	TransferCustody(ctx context.Context, token ledger.TokenRef, from, to ledger.Address) error
	UnstakeHook(ctx context.Context, token ledger.TokenRef) error
}

// Treasury collects fees and deposits and pays refunds.
type Treasury interface {
	Collect(ctx context.Context, from ledger.Address, amount int64, memo string) error
	Disburse(ctx context.Context, to ledger.Address, amount int64, memo string) error
}

// Set bundles every oracle the engines need.
type Set struct {
	Authority Authority
	Debt      DebtOracle
	Custody   Custody
	Treasury  Treasury
}
