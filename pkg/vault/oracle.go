package vault

import "time"

// PriceQuote is an externally supplied price observation for the
// designated reference feed. Feed identity is verified out-of-band.
type PriceQuote struct {
	Price      uint64    `json:"price"`
	Confidence uint64    `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// PriceGate validates quotes before they may gate a deposit. It is a
// pure validation step with no state of its own.
type PriceGate struct {
	MaxStaleness    time.Duration
	MaxDeviationBps uint16
}

// DefaultPriceGate returns a gate with the standard 60s staleness and
// 5% deviation bounds.
func DefaultPriceGate() PriceGate {
	return PriceGate{
		MaxStaleness:    MaxPriceStaleness,
		MaxDeviationBps: MaxPriceDeviationBps,
	}
}

// Validate checks quote freshness against now and, when a non-zero
// reference price is supplied, checks the relative deviation against
// the gate's bound. A zero reference skips the deviation check.
func (g PriceGate) Validate(q PriceQuote, reference uint64, now time.Time) error {
	if now.Sub(q.Timestamp) > g.MaxStaleness {
		return ErrStalePrice
	}
	if reference == 0 {
		return nil
	}

	var diff uint64
	if q.Price > reference {
		diff = q.Price - reference
	} else {
		diff = reference - q.Price
	}
	deviation, err := MulDiv(diff, BpsDenominator, reference)
	if err != nil {
		return err
	}
	if deviation > uint64(g.MaxDeviationBps) {
		return ErrPriceDeviation
	}
	return nil
}

// WeightedAverageAPYBps returns the allocation-weighted indicative APY
// across the given entries, in basis points.
func WeightedAverageAPYBps(allocations []Allocation) (uint64, error) {
	var weightedSum, totalWeight uint64
	var err error

	for _, a := range allocations {
		term, mulErr := CheckedMul(a.Protocol.IndicativeAPYBps(), uint64(a.TargetBps))
		if mulErr != nil {
			return 0, mulErr
		}
		weightedSum, err = CheckedAdd(weightedSum, term)
		if err != nil {
			return 0, err
		}
		totalWeight, err = CheckedAdd(totalWeight, uint64(a.TargetBps))
		if err != nil {
			return 0, err
		}
	}
	if totalWeight == 0 {
		return 0, nil
	}
	return weightedSum / totalWeight, nil
}
