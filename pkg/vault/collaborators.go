package vault

import (
	"fmt"
	"sync"
	"time"
)

// Clock supplies timestamps to the engine. Injected so the engine is
// testable without a live host environment.
type Clock interface {
	Now() time.Time
}

// WallClock is the production clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// CustodyTransfer moves value between custody accounts. It either fully
// succeeds or the whole vault operation aborts.
type CustodyTransfer interface {
	MoveValue(from, to string, amount uint64) error
}

// ShareIssuer mints and burns claim units. The engine computes amounts;
// issuance itself is delegated.
type ShareIssuer interface {
	Mint(owner string, amount uint64) error
	Burn(owner string, amount uint64) error
}

// ProtocolAdapter performs the actual cross-protocol transfers backing
// stake/unstake bookkeeping. The in-memory adapter never fails; a real
// integration may veto a rebalance by returning an error, which aborts
// the whole operation before any state is written.
type ProtocolAdapter interface {
	StakeTo(p Protocol, amount uint64) error
	UnstakeFrom(p Protocol, amount uint64) error
}

// InMemoryCustody is a bookkeeping custody ledger. Accounts registered
// as internal (the vault and fee collector) cannot be overdrawn; all
// other accounts are treated as externally funded, since solvency of
// outside parties is the host's concern.
type InMemoryCustody struct {
	mu       sync.Mutex
	balances map[string]int64
	internal map[string]bool
}

// NewInMemoryCustody creates a custody ledger with the given internal
// accounts.
func NewInMemoryCustody(internalAccounts ...string) *InMemoryCustody {
	c := &InMemoryCustody{
		balances: make(map[string]int64),
		internal: make(map[string]bool),
	}
	for _, a := range internalAccounts {
		c.internal[a] = true
	}
	return c
}

// MoveValue transfers amount from one account to another.
func (c *InMemoryCustody) MoveValue(from, to string, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	amt := int64(amount)
	if amt < 0 {
		return fmt.Errorf("custody: amount %d out of range", amount)
	}
	if c.internal[from] && c.balances[from] < amt {
		return fmt.Errorf("custody: account %s holds %d, cannot move %d", from, c.balances[from], amt)
	}
	c.balances[from] -= amt
	c.balances[to] += amt
	return nil
}

// Balance returns the tracked balance of an account.
func (c *InMemoryCustody) Balance(account string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[account]
}

// InMemoryShareIssuer tracks per-owner claim balances and total supply.
type InMemoryShareIssuer struct {
	mu       sync.Mutex
	balances map[string]uint64
	supply   uint64
}

// NewInMemoryShareIssuer creates an empty issuer.
func NewInMemoryShareIssuer() *InMemoryShareIssuer {
	return &InMemoryShareIssuer{balances: make(map[string]uint64)}
}

// Mint credits amount claim units to owner.
func (i *InMemoryShareIssuer) Mint(owner string, amount uint64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	bal, err := CheckedAdd(i.balances[owner], amount)
	if err != nil {
		return err
	}
	supply, err := CheckedAdd(i.supply, amount)
	if err != nil {
		return err
	}
	i.balances[owner] = bal
	i.supply = supply
	return nil
}

// Burn debits amount claim units from owner.
func (i *InMemoryShareIssuer) Burn(owner string, amount uint64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.balances[owner] < amount {
		return fmt.Errorf("issuer: owner %s holds %d units, cannot burn %d", owner, i.balances[owner], amount)
	}
	i.balances[owner] -= amount
	i.supply -= amount
	return nil
}

// BalanceOf returns the claim balance of owner.
func (i *InMemoryShareIssuer) BalanceOf(owner string) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.balances[owner]
}

// Supply returns total claim units outstanding.
func (i *InMemoryShareIssuer) Supply() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.supply
}

// NoopProtocolAdapter reproduces the bookkeeping-only behavior of the
// placeholder protocol integrations: every transfer succeeds.
type NoopProtocolAdapter struct{}

func (NoopProtocolAdapter) StakeTo(Protocol, uint64) error     { return nil }
func (NoopProtocolAdapter) UnstakeFrom(Protocol, uint64) error { return nil }
