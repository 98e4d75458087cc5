package vault

import (
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// Vault is the accounting and lifecycle engine for one pooled-custody
// vault. It owns the ledger (totals, fees, high-water mark, allocation
// table), every user position and every withdrawal request.
//
// All mutating operations serialize on a single mutex: the host
// environments this engine models guarantee atomic, non-reentrant
// execution per account, and the mutex reproduces that guarantee
// explicitly. Every operation validates and computes first, then calls
// collaborators, then commits memory state; a failure at any point
// leaves no partial mutation.
type Vault struct {
	mu sync.Mutex

	authority string
	shareMint string

	custodyAccount string
	feeCollector   string

	totalValue    uint64
	totalShares   uint64
	highWaterMark uint64

	accruedManagementFees  uint64
	accruedPerformanceFees uint64

	lastFeeCollection time.Time
	lastRebalance     time.Time
	rebalanceCount    uint64
	depositorCount    uint64

	config         VaultConfig
	numAllocations int
	allocations    [MaxProtocols]Allocation

	positions     map[string]*UserPosition
	requests      map[uint64]*WithdrawRequest
	nextRequestID uint64

	// referencePrice is the last accepted oracle price, used as the
	// deviation baseline for the next quote. Zero until first accept.
	referencePrice uint64

	gate    PriceGate
	clock   Clock
	custody CustodyTransfer
	issuer  ShareIssuer
	adapter ProtocolAdapter
	store   *Store
	feed    *EventFeed
	logger  log.Logger
}

// Params configures a new Vault. Clock, Custody and Issuer are
// required; Adapter, Store and Feed are optional.
type Params struct {
	Authority      string
	ShareMint      string
	CustodyAccount string
	FeeCollector   string

	Allocations       []AllocationTarget
	ManagementFeeBps  uint16
	PerformanceFeeBps uint16
	DepositCap        uint64

	Gate    PriceGate
	Clock   Clock
	Custody CustodyTransfer
	Issuer  ShareIssuer
	Adapter ProtocolAdapter
	Store   *Store
	Feed    *EventFeed
	Logger  log.Logger
}

// New initializes a vault with the given configuration.
func New(p Params) (*Vault, error) {
	if p.Clock == nil || p.Custody == nil || p.Issuer == nil {
		return nil, fmt.Errorf("vault: clock, custody and issuer collaborators are required")
	}
	if p.ManagementFeeBps > MaxManagementFeeBps {
		return nil, ErrManagementFeeTooHigh
	}
	if p.PerformanceFeeBps > MaxPerformanceFeeBps {
		return nil, ErrPerformanceFeeTooHigh
	}
	if err := validateAllocationTargets(p.Allocations); err != nil {
		return nil, err
	}
	if p.Adapter == nil {
		p.Adapter = NoopProtocolAdapter{}
	}
	if p.Logger == nil {
		p.Logger = log.Root().New("module", "vault")
	}
	if p.Gate == (PriceGate{}) {
		p.Gate = DefaultPriceGate()
	}
	if p.CustodyAccount == "" {
		p.CustodyAccount = "vault"
	}
	if p.FeeCollector == "" {
		p.FeeCollector = "fees"
	}

	cfg := DefaultVaultConfig()
	cfg.ManagementFeeBps = p.ManagementFeeBps
	cfg.PerformanceFeeBps = p.PerformanceFeeBps
	cfg.DepositCap = p.DepositCap

	now := p.Clock.Now()
	v := &Vault{
		authority:         p.Authority,
		shareMint:         p.ShareMint,
		custodyAccount:    p.CustodyAccount,
		feeCollector:      p.FeeCollector,
		highWaterMark:     SharePrecision,
		lastFeeCollection: now,
		lastRebalance:     now,
		config:            cfg,
		numAllocations:    len(p.Allocations),
		positions:         make(map[string]*UserPosition),
		requests:          make(map[uint64]*WithdrawRequest),
		nextRequestID:     1,
		gate:              p.Gate,
		clock:             p.Clock,
		custody:           p.Custody,
		issuer:            p.Issuer,
		adapter:           p.Adapter,
		store:             p.Store,
		feed:              p.Feed,
		logger:            p.Logger,
	}
	for i, t := range p.Allocations {
		v.allocations[i] = Allocation{Protocol: t.Protocol, TargetBps: t.TargetBps}
	}

	v.logger.Info("Vault initialized",
		"authority", p.Authority,
		"shareMint", p.ShareMint,
		"allocations", len(p.Allocations),
		"managementFeeBps", cfg.ManagementFeeBps,
		"performanceFeeBps", cfg.PerformanceFeeBps)

	// No persist here: a restarting host calls Restore next, and an
	// eager snapshot would clobber the stored ledger first.
	v.emit(EventVaultInitialized, map[string]string{
		"authority": p.Authority,
		"shareMint": p.ShareMint,
	})
	return v, nil
}

// SharePrice returns the current value per share scaled by
// SharePrecision.
func (v *Vault) SharePrice() (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return SharePriceOf(v.totalValue, v.totalShares)
}

// Deposit accepts amount of base asset from owner and mints shares.
// The supplied quote must pass the price gate before anything else is
// considered. Returns the number of shares minted.
func (v *Vault) Deposit(owner string, amount uint64, quote PriceQuote) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if amount == 0 {
		return 0, ErrZeroAmount
	}
	if amount < MinDeposit {
		return 0, ErrDepositBelowMinimum
	}
	now := v.clock.Now()
	if err := v.gate.Validate(quote, v.referencePrice, now); err != nil {
		return 0, err
	}
	if v.config.IsPaused {
		return 0, ErrVaultPaused
	}
	if v.config.DepositCap > 0 {
		newTotal, err := CheckedAdd(v.totalValue, amount)
		if err != nil {
			return 0, err
		}
		if newTotal > v.config.DepositCap {
			return 0, ErrDepositCapExceeded
		}
	}

	shares, err := v.sharesToMint(amount)
	if err != nil {
		return 0, err
	}
	if shares == 0 {
		// Dust deposit: pool ratio rounds the mint down to nothing.
		return 0, ErrZeroAmount
	}
	priceBefore, err := SharePriceOf(v.totalValue, v.totalShares)
	if err != nil {
		return 0, err
	}
	newValue, err := CheckedAdd(v.totalValue, amount)
	if err != nil {
		return 0, err
	}
	newShares, err := CheckedAdd(v.totalShares, shares)
	if err != nil {
		return 0, err
	}

	// All checks passed; move value and mint, then commit.
	if err := v.custody.MoveValue(owner, v.custodyAccount, amount); err != nil {
		return 0, fmt.Errorf("custody transfer failed: %w", err)
	}
	if err := v.issuer.Mint(owner, shares); err != nil {
		// Hand the value back before aborting.
		if rbErr := v.custody.MoveValue(v.custodyAccount, owner, amount); rbErr != nil {
			v.logger.Error("Custody rollback failed after mint failure",
				"owner", owner, "amount", amount, "error", rbErr)
		}
		return 0, fmt.Errorf("share mint failed: %w", err)
	}

	v.totalValue = newValue
	v.totalShares = newShares
	v.referencePrice = quote.Price

	pos, ok := v.positions[owner]
	if !ok {
		pos = &UserPosition{Owner: owner, FirstDeposit: now}
		v.positions[owner] = pos
		v.depositorCount++
	}
	pos.Shares += shares
	pos.TotalDeposited += amount
	pos.LastActivity = now

	v.logger.Info("Deposit accepted",
		"owner", owner,
		"amount", amount,
		"shares", shares,
		"sharePrice", priceBefore)

	v.persistLedger()
	v.persistPosition(pos)
	v.emit(EventDeposit, DepositData{
		Owner:        owner,
		Amount:       amount,
		SharesMinted: shares,
		SharePrice:   priceBefore,
	})
	return shares, nil
}

// sharesToMint applies the dead-share floor on the first deposit and
// the pool ratio afterwards. Caller holds the lock.
func (v *Vault) sharesToMint(amount uint64) (uint64, error) {
	if v.totalShares == 0 || v.totalValue == 0 {
		if amount <= MinimumInitialShares {
			return 0, ErrDepositBelowMinimum
		}
		// The floor amount of share-equivalent value is forfeited to
		// the pool permanently.
		return amount - MinimumInitialShares, nil
	}
	return SharesForDeposit(amount, v.totalValue, v.totalShares)
}

// Pause halts deposits, withdrawal requests and rebalances. Authority
// only.
func (v *Vault) Pause(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.authority {
		return ErrUnauthorized
	}
	if v.config.IsPaused {
		return ErrVaultPaused
	}
	v.config.IsPaused = true

	v.logger.Warn("Vault paused", "authority", caller)
	v.persistLedger()
	v.emit(EventVaultPaused, PausedData{IsPaused: true})
	return nil
}

// Unpause resumes normal operation. Authority only.
func (v *Vault) Unpause(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.authority {
		return ErrUnauthorized
	}
	if !v.config.IsPaused {
		return ErrVaultNotPaused
	}
	v.config.IsPaused = false

	v.logger.Info("Vault unpaused", "authority", caller)
	v.persistLedger()
	v.emit(EventVaultPaused, PausedData{IsPaused: false})
	return nil
}

// UpdateConfig applies the non-nil fields of upd. Authority only. Each
// changed field emits its own ConfigUpdated event.
func (v *Vault) UpdateConfig(caller string, upd ConfigUpdate) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.authority {
		return ErrUnauthorized
	}
	if upd.ManagementFeeBps != nil && *upd.ManagementFeeBps > MaxManagementFeeBps {
		return ErrManagementFeeTooHigh
	}
	if upd.PerformanceFeeBps != nil && *upd.PerformanceFeeBps > MaxPerformanceFeeBps {
		return ErrPerformanceFeeTooHigh
	}

	apply := func(field string, old, new uint64) {
		v.emit(EventConfigUpdated, ConfigUpdatedData{Field: field, OldValue: old, NewValue: new})
		v.logger.Info("Config updated", "field", field, "old", old, "new", new)
	}
	if upd.ManagementFeeBps != nil {
		apply("managementFeeBps", uint64(v.config.ManagementFeeBps), uint64(*upd.ManagementFeeBps))
		v.config.ManagementFeeBps = *upd.ManagementFeeBps
	}
	if upd.PerformanceFeeBps != nil {
		apply("performanceFeeBps", uint64(v.config.PerformanceFeeBps), uint64(*upd.PerformanceFeeBps))
		v.config.PerformanceFeeBps = *upd.PerformanceFeeBps
	}
	if upd.RebalanceThresholdBps != nil {
		apply("rebalanceThresholdBps", uint64(v.config.RebalanceThresholdBps), uint64(*upd.RebalanceThresholdBps))
		v.config.RebalanceThresholdBps = *upd.RebalanceThresholdBps
	}
	if upd.MaxSlippageBps != nil {
		apply("maxSlippageBps", uint64(v.config.MaxSlippageBps), uint64(*upd.MaxSlippageBps))
		v.config.MaxSlippageBps = *upd.MaxSlippageBps
	}
	if upd.DepositCap != nil {
		apply("depositCap", v.config.DepositCap, *upd.DepositCap)
		v.config.DepositCap = *upd.DepositCap
	}

	v.persistLedger()
	return nil
}

// UpdateAllocations replaces the whole allocation table. Authority
// only. Existing current percentages and values reset to zero and are
// rebuilt by stake bookkeeping and rebalancing.
func (v *Vault) UpdateAllocations(caller string, targets []AllocationTarget) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.authority {
		return ErrUnauthorized
	}
	if err := validateAllocationTargets(targets); err != nil {
		return err
	}

	v.numAllocations = len(targets)
	for i := range v.allocations {
		v.allocations[i] = Allocation{}
	}
	for i, t := range targets {
		v.allocations[i] = Allocation{Protocol: t.Protocol, TargetBps: t.TargetBps}
	}

	v.logger.Info("Allocations updated", "count", len(targets))
	v.persistLedger()
	return nil
}

// validateAllocationTargets enforces the table invariants: bounded
// count, unique protocols, per-protocol cap, exact 100% sum.
func validateAllocationTargets(targets []AllocationTarget) error {
	if len(targets) > MaxProtocols {
		return ErrTooManyProtocols
	}
	var sum uint32
	seen := make(map[Protocol]bool, len(targets))
	for _, t := range targets {
		if !t.Protocol.Valid() {
			return ErrUnsupportedProtocol
		}
		if seen[t.Protocol] {
			return ErrDuplicateProtocol
		}
		seen[t.Protocol] = true
		if t.TargetBps > MaxProtocolAllocationBps {
			return ErrAllocationExceedsMax
		}
		sum += uint32(t.TargetBps)
	}
	if sum != uint32(TotalAllocationBps) {
		return ErrInvalidAllocationSum
	}
	return nil
}

// Position returns a copy of owner's position.
func (v *Vault) Position(owner string) (UserPosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.positions[owner]
	if !ok {
		return UserPosition{}, ErrPositionNotFound
	}
	return *pos, nil
}

// Request returns a copy of the withdrawal request with the given id,
// with the derived Ready status applied when its maturity has elapsed.
func (v *Vault) Request(id uint64) (WithdrawRequest, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, ok := v.requests[id]
	if !ok {
		return WithdrawRequest{}, ErrWithdrawNotFound
	}
	out := *req
	if out.Status == WithdrawPending && !v.clock.Now().Before(out.ReadyAt) {
		out.Status = WithdrawReady
	}
	return out, nil
}

// State is a point-in-time snapshot of the ledger.
type State struct {
	Authority              string       `json:"authority"`
	ShareMint              string       `json:"shareMint"`
	TotalValue             uint64       `json:"totalValue"`
	TotalShares            uint64       `json:"totalShares"`
	SharePrice             uint64       `json:"sharePrice"`
	HighWaterMark          uint64       `json:"highWaterMark"`
	AccruedManagementFees  uint64       `json:"accruedManagementFees"`
	AccruedPerformanceFees uint64       `json:"accruedPerformanceFees"`
	LastFeeCollection      time.Time    `json:"lastFeeCollection"`
	LastRebalance          time.Time    `json:"lastRebalance"`
	RebalanceCount         uint64       `json:"rebalanceCount"`
	DepositorCount         uint64       `json:"depositorCount"`
	Config                 VaultConfig  `json:"config"`
	Allocations            []Allocation `json:"allocations"`
}

// State returns a snapshot of the ledger.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *Vault) stateLocked() State {
	price, err := SharePriceOf(v.totalValue, v.totalShares)
	if err != nil {
		price = 0
	}
	allocs := make([]Allocation, v.numAllocations)
	copy(allocs, v.allocations[:v.numAllocations])
	return State{
		Authority:              v.authority,
		ShareMint:              v.shareMint,
		TotalValue:             v.totalValue,
		TotalShares:            v.totalShares,
		SharePrice:             price,
		HighWaterMark:          v.highWaterMark,
		AccruedManagementFees:  v.accruedManagementFees,
		AccruedPerformanceFees: v.accruedPerformanceFees,
		LastFeeCollection:      v.lastFeeCollection,
		LastRebalance:          v.lastRebalance,
		RebalanceCount:         v.rebalanceCount,
		DepositorCount:         v.depositorCount,
		Config:                 v.config,
		Allocations:            allocs,
	}
}

// Authority returns the configured privileged identity.
func (v *Vault) Authority() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.authority
}

// emit publishes an event if a feed is attached. Caller holds the lock.
func (v *Vault) emit(t EventType, data interface{}) {
	if v.feed == nil {
		return
	}
	v.feed.Publish(Event{Type: t, Timestamp: v.clock.Now(), Data: data})
}

// persistLedger snapshots ledger state to the store. Persistence is
// best effort: the in-memory ledger is authoritative and a write
// failure must not unwind a committed operation. Caller holds the lock.
func (v *Vault) persistLedger() {
	if v.store == nil {
		return
	}
	if err := v.store.SaveLedger(v.stateLocked()); err != nil {
		v.logger.Warn("Failed to persist ledger", "error", err)
	}
}

func (v *Vault) persistPosition(p *UserPosition) {
	if v.store == nil {
		return
	}
	if err := v.store.SavePosition(*p); err != nil {
		v.logger.Warn("Failed to persist position", "owner", p.Owner, "error", err)
	}
}

func (v *Vault) persistRequest(r *WithdrawRequest) {
	if v.store == nil {
		return
	}
	if err := v.store.SaveRequest(*r); err != nil {
		v.logger.Warn("Failed to persist withdrawal request", "id", r.ID, "error", err)
	}
}
