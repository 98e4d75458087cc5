package vault

// Allocation tracking and rebalancing. Stake/unstake bookkeeping moves
// value attribution between the idle pool and a protocol entry, then
// recomputes every entry's observed percentage from scratch so that
// repeated mutations cannot drift incrementally.

// StakeToProtocol attributes amount of pooled value to the given
// protocol. Authority only. The protocol adapter performs (or vetoes)
// the underlying transfer before any bookkeeping is written.
func (v *Vault) StakeToProtocol(caller string, p Protocol, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.authority {
		return ErrUnauthorized
	}
	if v.config.IsPaused {
		return ErrVaultPaused
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	idx := v.allocationIndex(p)
	if idx < 0 {
		return ErrUnsupportedProtocol
	}
	newValue, err := CheckedAdd(v.allocations[idx].Value, amount)
	if err != nil {
		return err
	}

	if err := v.adapter.StakeTo(p, amount); err != nil {
		return err
	}
	v.allocations[idx].Value = newValue
	if err := v.recomputeCurrentBps(); err != nil {
		// Roll the attribution back; percentages were not touched.
		v.allocations[idx].Value -= amount
		return err
	}

	v.logger.Info("Staked to protocol", "protocol", p.String(), "amount", amount)
	v.persistLedger()
	return nil
}

// UnstakeFromProtocol removes amount of value attribution from the
// given protocol. Authority only.
func (v *Vault) UnstakeFromProtocol(caller string, p Protocol, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.authority {
		return ErrUnauthorized
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	idx := v.allocationIndex(p)
	if idx < 0 {
		return ErrUnsupportedProtocol
	}
	if v.allocations[idx].Value < amount {
		return ErrInsufficientLiquidity
	}

	if err := v.adapter.UnstakeFrom(p, amount); err != nil {
		return err
	}
	v.allocations[idx].Value -= amount
	if err := v.recomputeCurrentBps(); err != nil {
		v.allocations[idx].Value += amount
		return err
	}

	v.logger.Info("Unstaked from protocol", "protocol", p.String(), "amount", amount)
	v.persistLedger()
	return nil
}

// Rebalance converges every allocation entry to its target. Callable
// by anyone: the pause, interval and threshold gates make it a no-op
// unless a rebalance is actually due, so permissionless exposure is
// economically safe.
func (v *Vault) Rebalance(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.config.IsPaused {
		return ErrVaultPaused
	}
	now := v.clock.Now()
	if now.Sub(v.lastRebalance) < MinRebalanceInterval {
		return ErrRebalanceTooSoon
	}

	var maxDeviation uint16
	oldBps := make([]uint16, v.numAllocations)
	for i := 0; i < v.numAllocations; i++ {
		a := v.allocations[i]
		oldBps[i] = a.CurrentBps
		if d := absDiffBps(a.CurrentBps, a.TargetBps); d > maxDeviation {
			maxDeviation = d
		}
	}
	if maxDeviation < v.config.RebalanceThresholdBps {
		return ErrRebalanceThresholdNotMet
	}

	// Compute the target-derived values before touching anything.
	newValues := make([]uint64, v.numAllocations)
	for i := 0; i < v.numAllocations; i++ {
		nv, err := Bps(v.totalValue, v.allocations[i].TargetBps)
		if err != nil {
			return err
		}
		newValues[i] = nv
	}

	// Route the implied transfers through the adapter: overweight
	// entries unstake, underweight entries stake. Any veto aborts the
	// whole rebalance before bookkeeping changes.
	for i := 0; i < v.numAllocations; i++ {
		a := v.allocations[i]
		switch {
		case a.Value > newValues[i]:
			if err := v.adapter.UnstakeFrom(a.Protocol, a.Value-newValues[i]); err != nil {
				return err
			}
		case a.Value < newValues[i]:
			if err := v.adapter.StakeTo(a.Protocol, newValues[i]-a.Value); err != nil {
				return err
			}
		}
	}

	newBps := make([]uint16, v.numAllocations)
	for i := 0; i < v.numAllocations; i++ {
		v.allocations[i].Value = newValues[i]
		v.allocations[i].CurrentBps = v.allocations[i].TargetBps
		newBps[i] = v.allocations[i].CurrentBps
	}
	v.lastRebalance = now
	v.rebalanceCount++

	v.logger.Info("Vault rebalanced",
		"maxDeviation", maxDeviation,
		"rebalanceCount", v.rebalanceCount)

	v.persistLedger()
	v.emit(EventRebalance, RebalanceData{
		OldBps:       oldBps,
		NewBps:       newBps,
		MaxDeviation: maxDeviation,
		Count:        v.rebalanceCount,
	})
	return nil
}

// MaxAllocationDeviation returns the largest |current - target| across
// active entries.
func (v *Vault) MaxAllocationDeviation() uint16 {
	v.mu.Lock()
	defer v.mu.Unlock()

	var max uint16
	for i := 0; i < v.numAllocations; i++ {
		if d := absDiffBps(v.allocations[i].CurrentBps, v.allocations[i].TargetBps); d > max {
			max = d
		}
	}
	return max
}

// allocationIndex returns the table index of p, or -1. Caller holds
// the lock.
func (v *Vault) allocationIndex(p Protocol) int {
	for i := 0; i < v.numAllocations; i++ {
		if v.allocations[i].Protocol == p {
			return i
		}
	}
	return -1
}

// recomputeCurrentBps rebuilds every entry's observed percentage from
// its absolute value. All percentages are computed before any is
// written, so a failed recompute leaves the table untouched. Caller
// holds the lock.
func (v *Vault) recomputeCurrentBps() error {
	computed := make([]uint16, v.numAllocations)
	if v.totalValue > 0 {
		for i := 0; i < v.numAllocations; i++ {
			bps, err := MulDiv(v.allocations[i].Value, BpsDenominator, v.totalValue)
			if err != nil {
				return err
			}
			if bps > 65535 {
				return ErrMathOverflow
			}
			computed[i] = uint16(bps)
		}
	}
	for i := 0; i < v.numAllocations; i++ {
		v.allocations[i].CurrentBps = computed[i]
	}
	return nil
}

// setCurrentAllocation force-sets an entry's observed share, used when
// restoring persisted state and by tests that need a skewed table.
func (v *Vault) setCurrentAllocation(p Protocol, currentBps uint16, value uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	idx := v.allocationIndex(p)
	if idx < 0 {
		return ErrUnsupportedProtocol
	}
	v.allocations[idx].CurrentBps = currentBps
	v.allocations[idx].Value = value
	return nil
}
