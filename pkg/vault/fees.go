package vault

// CollectFees accrues the management fee for the elapsed interval and
// the performance fee on gains above the high-water mark, debits the
// total from pooled value and credits the fee collector. Authority
// only; there is no internal scheduling, the host triggers it.
//
// The high-water mark advances to the current share price whenever the
// price exceeds it, even on a call that collects nothing, and the
// collection timestamp always advances.
func (v *Vault) CollectFees(caller string) (FeeCollection, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.authority {
		return FeeCollection{}, ErrUnauthorized
	}

	now := v.clock.Now()
	elapsed := now.Sub(v.lastFeeCollection)
	if elapsed < 0 {
		return FeeCollection{}, ErrMathUnderflow
	}

	// Management fee, time-proportional and annualized:
	// totalValue * feeBps * elapsedSeconds / (10000 * secondsPerYear).
	mgmtFee, err := MulDiv(
		v.totalValue,
		uint64(v.config.ManagementFeeBps)*uint64(elapsed.Seconds()),
		BpsDenominator*SecondsPerYear,
	)
	if err != nil {
		return FeeCollection{}, err
	}

	price, err := SharePriceOf(v.totalValue, v.totalShares)
	if err != nil {
		return FeeCollection{}, err
	}

	// Performance fee only on the gain above the high-water mark.
	var perfFee uint64
	if price > v.highWaterMark {
		gainPerShare := price - v.highWaterMark
		totalGain, err := MulDiv(gainPerShare, v.totalShares, SharePrecision)
		if err != nil {
			return FeeCollection{}, err
		}
		perfFee, err = Bps(totalGain, v.config.PerformanceFeeBps)
		if err != nil {
			return FeeCollection{}, err
		}
	}

	total, err := CheckedAdd(mgmtFee, perfFee)
	if err != nil {
		return FeeCollection{}, err
	}
	newValue, err := CheckedSub(v.totalValue, total)
	if err != nil {
		return FeeCollection{}, err
	}
	newMgmt, err := CheckedAdd(v.accruedManagementFees, mgmtFee)
	if err != nil {
		return FeeCollection{}, err
	}
	newPerf, err := CheckedAdd(v.accruedPerformanceFees, perfFee)
	if err != nil {
		return FeeCollection{}, err
	}

	if total > 0 {
		if err := v.custody.MoveValue(v.custodyAccount, v.feeCollector, total); err != nil {
			return FeeCollection{}, err
		}
		v.totalValue = newValue
		v.accruedManagementFees = newMgmt
		v.accruedPerformanceFees = newPerf
	}

	// The mark ratchets up on any price rise, collectible or not.
	if price > v.highWaterMark {
		v.highWaterMark = price
	}
	v.lastFeeCollection = now

	v.logger.Info("Fees collected",
		"managementFee", mgmtFee,
		"performanceFee", perfFee,
		"total", total,
		"sharePrice", price,
		"highWaterMark", v.highWaterMark)

	v.persistLedger()
	result := FeeCollection{
		ManagementFee:  mgmtFee,
		PerformanceFee: perfFee,
		Total:          total,
		SharePrice:     price,
		CollectedAt:    now,
	}
	v.emit(EventFeeCollection, result)
	return result, nil
}
