package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceGateValidate(t *testing.T) {
	gate := DefaultPriceGate()
	now := time.Unix(1_700_000_000, 0)

	t.Run("FreshQuotePasses", func(t *testing.T) {
		q := PriceQuote{Price: 1_000_000_000, Timestamp: now.Add(-30 * time.Second)}
		assert.NoError(t, gate.Validate(q, 0, now))
	})

	t.Run("StaleQuoteRejected", func(t *testing.T) {
		q := PriceQuote{Price: 1_000_000_000, Timestamp: now.Add(-61 * time.Second)}
		assert.ErrorIs(t, gate.Validate(q, 0, now), ErrStalePrice)
	})

	t.Run("ExactStalenessBoundaryPasses", func(t *testing.T) {
		q := PriceQuote{Price: 1_000_000_000, Timestamp: now.Add(-MaxPriceStaleness)}
		assert.NoError(t, gate.Validate(q, 0, now))
	})

	t.Run("ZeroReferenceSkipsDeviation", func(t *testing.T) {
		q := PriceQuote{Price: 5_000_000_000, Timestamp: now}
		assert.NoError(t, gate.Validate(q, 0, now))
	})

	t.Run("DeviationWithinBoundPasses", func(t *testing.T) {
		// 5% above reference, exactly at the bound.
		q := PriceQuote{Price: 1_050_000_000, Timestamp: now}
		assert.NoError(t, gate.Validate(q, 1_000_000_000, now))
	})

	t.Run("DeviationAboveBoundRejected", func(t *testing.T) {
		q := PriceQuote{Price: 1_051_000_000, Timestamp: now}
		assert.ErrorIs(t, gate.Validate(q, 1_000_000_000, now), ErrPriceDeviation)
	})

	t.Run("DeviationBelowReferenceRejected", func(t *testing.T) {
		q := PriceQuote{Price: 940_000_000, Timestamp: now}
		assert.ErrorIs(t, gate.Validate(q, 1_000_000_000, now), ErrPriceDeviation)
	})
}

func TestWeightedAverageAPYBps(t *testing.T) {
	t.Run("EmptyTable", func(t *testing.T) {
		apy, err := WeightedAverageAPYBps(nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), apy)
	})

	t.Run("SingleEntry", func(t *testing.T) {
		apy, err := WeightedAverageAPYBps([]Allocation{
			{Protocol: ProtocolJito, TargetBps: 10_000},
		})
		require.NoError(t, err)
		assert.Equal(t, ProtocolJito.IndicativeAPYBps(), apy)
	})

	t.Run("EvenSplit", func(t *testing.T) {
		apy, err := WeightedAverageAPYBps([]Allocation{
			{Protocol: ProtocolJito, TargetBps: 5_000},     // 750
			{Protocol: ProtocolMarinade, TargetBps: 5_000}, // 670
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(710), apy)
	})
}
