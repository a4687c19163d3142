package oracle

import (
	"context"
	"fmt"
	"sync"

	"colonywars/internal/ledger"
)

// Memory is an in-process implementation of every oracle. It backs dev mode
// and tests; each facet can be switched into a failing state.
type Memory struct {
	mu sync.Mutex

	creators   map[ledger.ID]ledger.Address
	delegates  map[ledger.ID]map[ledger.Address]bool
	debt       map[ledger.ID]int64
	owners     map[ledger.ID]ledger.Address
	balances   map[ledger.Address]int64
	hookCalls  map[ledger.ID]int
	transfers  int
	failAuth   bool
	failDebt   bool
	failAssets bool
	failFunds  bool
}

func NewMemory() *Memory {
	return &Memory{
		creators:  map[ledger.ID]ledger.Address{},
		delegates: map[ledger.ID]map[ledger.Address]bool{},
		debt:      map[ledger.ID]int64{},
		owners:    map[ledger.ID]ledger.Address{},
		balances:  map[ledger.Address]int64{},
		hookCalls: map[ledger.ID]int{},
	}
}

// Set returns m wired into every oracle slot.
func (m *Memory) Set() Set {
	return Set{Authority: m, Debt: m, Custody: m, Treasury: m}
}

// SetCreator records addr as the creator (and controller) of colony.
func (m *Memory) SetCreator(colony ledger.ID, addr ledger.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creators[colony] = addr
}

// Authorize lets addr act for colony without being its creator.
func (m *Memory) Authorize(colony ledger.ID, addr ledger.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delegates[colony] == nil {
		m.delegates[colony] = map[ledger.Address]bool{}
	}
	m.delegates[colony][addr] = true
}

func (m *Memory) SetDebt(colony ledger.ID, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debt[colony] = amount
}

func (m *Memory) Mint(token ledger.TokenRef, owner ledger.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[token.Key()] = owner
}

func (m *Memory) Fund(addr ledger.Address, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] += amount
}

func (m *Memory) Balance(addr ledger.Address) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[addr]
}

// Transfers counts successful custody transfers.
func (m *Memory) Transfers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers
}

func (m *Memory) HookCalls(token ledger.TokenRef) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hookCalls[token.Key()]
}

func (m *Memory) FailAuthority(fail bool) { m.mu.Lock(); m.failAuth = fail; m.mu.Unlock() }
func (m *Memory) FailDebt(fail bool)      { m.mu.Lock(); m.failDebt = fail; m.mu.Unlock() }
func (m *Memory) FailCustody(fail bool)   { m.mu.Lock(); m.failAssets = fail; m.mu.Unlock() }
func (m *Memory) FailTreasury(fail bool)  { m.mu.Lock(); m.failFunds = fail; m.mu.Unlock() }

func (m *Memory) IsColonyCreator(_ context.Context, colony ledger.ID, addr ledger.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAuth {
		return false, ErrUnavailable
	}
	return m.creators[colony] == addr && addr != "", nil
}

func (m *Memory) IsAuthorizedForColony(_ context.Context, colony ledger.ID, addr ledger.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAuth {
		return false, ErrUnavailable
	}
	if addr == "" {
		return false, nil
	}
	return m.creators[colony] == addr || m.delegates[colony][addr], nil
}

func (m *Memory) CurrentColonyDebt(_ context.Context, colony ledger.ID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDebt {
		return 0, ErrUnavailable
	}
	return m.debt[colony], nil
}

func (m *Memory) OwnerOf(_ context.Context, token ledger.TokenRef) (ledger.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAssets {
		return "", ErrUnavailable
	}
	owner, ok := m.owners[token.Key()]
	if !ok {
		return "", fmt.Errorf("%w: unknown token %s", ErrRejected, token)
	}
	return owner, nil
}

func (m *Memory) TransferCustody(_ context.Context, token ledger.TokenRef, from, to ledger.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAssets {
		return ErrUnavailable
	}
	if m.owners[token.Key()] != from {
		return fmt.Errorf("%w: %s is not held by %s", ErrRejected, token, from)
	}
	m.owners[token.Key()] = to
	m.transfers++
	return nil
}

func (m *Memory) UnstakeHook(_ context.Context, token ledger.TokenRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAssets {
		return ErrUnavailable
	}
	m.hookCalls[token.Key()]++
	return nil
}

func (m *Memory) Collect(_ context.Context, from ledger.Address, amount int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFunds {
		return ErrUnavailable
	}
	if amount < 0 {
		return fmt.Errorf("%w: negative amount", ErrRejected)
	}
	if m.balances[from] < amount {
		return ErrInsufficientFunds
	}
	m.balances[from] -= amount
	return nil
}

func (m *Memory) Disburse(_ context.Context, to ledger.Address, amount int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFunds {
		return ErrUnavailable
	}
	if amount < 0 {
		return fmt.Errorf("%w: negative amount", ErrRejected)
	}
	m.balances[to] += amount
	return nil
}
