package vault

import (
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock lets tests drive time explicitly.
type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	vault   *Vault
	clock   *manualClock
	custody *InMemoryCustody
	issuer  *InMemoryShareIssuer
}

// freshQuote returns a quote stamped at the current test clock.
func (e *testEnv) freshQuote(price uint64) PriceQuote {
	return PriceQuote{Price: price, Timestamp: e.clock.Now()}
}

func defaultTargets() []AllocationTarget {
	return []AllocationTarget{
		{Protocol: ProtocolJito, TargetBps: 5_000},
		{Protocol: ProtocolMarinade, TargetBps: 5_000},
	}
}

func newTestEnv(t *testing.T, mutate ...func(*Params)) *testEnv {
	t.Helper()

	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	custody := NewInMemoryCustody("vault", "fees")
	issuer := NewInMemoryShareIssuer()
	level, _ := log.ToLevel("error")

	p := Params{
		Authority:         "authority",
		ShareMint:         "vshare",
		Allocations:       defaultTargets(),
		ManagementFeeBps:  DefaultManagementFeeBps,
		PerformanceFeeBps: DefaultPerformanceFeeBps,
		Clock:             clock,
		Custody:           custody,
		Issuer:            issuer,
		Logger:            log.NewTestLogger(level),
	}
	for _, m := range mutate {
		m(&p)
	}

	v, err := New(p)
	require.NoError(t, err)
	return &testEnv{vault: v, clock: clock, custody: custody, issuer: issuer}
}

func TestNewVault(t *testing.T) {
	t.Run("ValidParams", func(t *testing.T) {
		env := newTestEnv(t)
		st := env.vault.State()
		assert.Equal(t, "authority", st.Authority)
		assert.Equal(t, uint64(0), st.TotalValue)
		assert.Equal(t, uint64(0), st.TotalShares)
		assert.Equal(t, SharePrecision, st.SharePrice)
		assert.Equal(t, SharePrecision, st.HighWaterMark)
		assert.Len(t, st.Allocations, 2)
	})

	t.Run("MissingCollaborators", func(t *testing.T) {
		_, err := New(Params{Allocations: defaultTargets()})
		assert.Error(t, err)
	})

	t.Run("ManagementFeeTooHigh", func(t *testing.T) {
		_, err := New(Params{
			Allocations:      defaultTargets(),
			ManagementFeeBps: MaxManagementFeeBps + 1,
			Clock:            &manualClock{},
			Custody:          NewInMemoryCustody("vault"),
			Issuer:           NewInMemoryShareIssuer(),
		})
		assert.ErrorIs(t, err, ErrManagementFeeTooHigh)
	})

	t.Run("PerformanceFeeTooHigh", func(t *testing.T) {
		_, err := New(Params{
			Allocations:       defaultTargets(),
			PerformanceFeeBps: MaxPerformanceFeeBps + 1,
			Clock:             &manualClock{},
			Custody:           NewInMemoryCustody("vault"),
			Issuer:            NewInMemoryShareIssuer(),
		})
		assert.ErrorIs(t, err, ErrPerformanceFeeTooHigh)
	})

	t.Run("BadAllocations", func(t *testing.T) {
		_, err := New(Params{
			Allocations: []AllocationTarget{{Protocol: ProtocolJito, TargetBps: 9_999}},
			Clock:       &manualClock{},
			Custody:     NewInMemoryCustody("vault"),
			Issuer:      NewInMemoryShareIssuer(),
		})
		assert.ErrorIs(t, err, ErrInvalidAllocationSum)
	})
}

func TestDeposit(t *testing.T) {
	t.Run("FirstDepositWithholdsFloor", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		assert.Equal(t, MinDeposit-MinimumInitialShares, shares)

		st := env.vault.State()
		assert.Equal(t, MinDeposit, st.TotalValue)
		assert.Equal(t, MinDeposit-MinimumInitialShares, st.TotalShares)
		assert.Equal(t, uint64(1), st.DepositorCount)

		assert.Equal(t, shares, env.issuer.BalanceOf("alice"))
		assert.Equal(t, int64(MinDeposit), env.custody.Balance("vault"))

		pos, err := env.vault.Position("alice")
		require.NoError(t, err)
		assert.Equal(t, shares, pos.Shares)
		assert.Equal(t, MinDeposit, pos.TotalDeposited)
	})

	t.Run("SecondDepositAtPoolRatio", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)

		shares, err := env.vault.Deposit("bob", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		// Pool ratio is totalShares/totalValue after the floor was
		// withheld, so bob gets the same count as the floor-reduced mint.
		assert.Equal(t, MinDeposit-MinimumInitialShares, shares)

		st := env.vault.State()
		assert.Equal(t, uint64(2), st.DepositorCount)
		assert.Equal(t, 2*MinDeposit, st.TotalValue)
	})

	t.Run("RepeatDepositorCountedOnce", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		_, err = env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), env.vault.State().DepositorCount)
	})

	t.Run("ZeroAmount", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.vault.Deposit("alice", 0, env.freshQuote(SharePrecision))
		assert.ErrorIs(t, err, ErrZeroAmount)
	})

	t.Run("BelowMinimum", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.vault.Deposit("alice", MinDeposit-1, env.freshQuote(SharePrecision))
		assert.ErrorIs(t, err, ErrDepositBelowMinimum)
	})

	t.Run("StaleQuote", func(t *testing.T) {
		env := newTestEnv(t)
		q := PriceQuote{Price: SharePrecision, Timestamp: env.clock.Now().Add(-2 * time.Minute)}
		_, err := env.vault.Deposit("alice", MinDeposit, q)
		assert.ErrorIs(t, err, ErrStalePrice)
	})

	t.Run("DeviatingQuote", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)

		// 10% above the accepted reference price.
		_, err = env.vault.Deposit("bob", MinDeposit, env.freshQuote(1_100_000_000))
		assert.ErrorIs(t, err, ErrPriceDeviation)
	})

	t.Run("WhilePaused", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.vault.Pause("authority"))
		_, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		assert.ErrorIs(t, err, ErrVaultPaused)
	})

	t.Run("CapExceeded", func(t *testing.T) {
		env := newTestEnv(t, func(p *Params) { p.DepositCap = MinDeposit })
		_, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		_, err = env.vault.Deposit("bob", MinDeposit, env.freshQuote(SharePrecision))
		assert.ErrorIs(t, err, ErrDepositCapExceeded)
	})

	t.Run("FailedDepositLeavesNoTrace", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.vault.Deposit("alice", MinDeposit-1, env.freshQuote(SharePrecision))
		require.Error(t, err)

		st := env.vault.State()
		assert.Equal(t, uint64(0), st.TotalValue)
		assert.Equal(t, uint64(0), st.TotalShares)
		assert.Equal(t, uint64(0), st.DepositorCount)
		assert.Equal(t, int64(0), env.custody.Balance("vault"))
		assert.Equal(t, uint64(0), env.issuer.Supply())
	})
}

func TestPauseUnpause(t *testing.T) {
	env := newTestEnv(t)

	t.Run("NonAuthorityRejected", func(t *testing.T) {
		assert.ErrorIs(t, env.vault.Pause("mallory"), ErrUnauthorized)
	})

	t.Run("PauseThenUnpause", func(t *testing.T) {
		require.NoError(t, env.vault.Pause("authority"))
		assert.True(t, env.vault.State().Config.IsPaused)

		assert.ErrorIs(t, env.vault.Pause("authority"), ErrVaultPaused)

		require.NoError(t, env.vault.Unpause("authority"))
		assert.False(t, env.vault.State().Config.IsPaused)

		assert.ErrorIs(t, env.vault.Unpause("authority"), ErrVaultNotPaused)
	})
}

func TestUpdateConfig(t *testing.T) {
	env := newTestEnv(t)

	t.Run("NonAuthorityRejected", func(t *testing.T) {
		fee := uint16(10)
		err := env.vault.UpdateConfig("mallory", ConfigUpdate{ManagementFeeBps: &fee})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("FeeBoundsEnforced", func(t *testing.T) {
		tooHigh := MaxManagementFeeBps + 1
		err := env.vault.UpdateConfig("authority", ConfigUpdate{ManagementFeeBps: &tooHigh})
		assert.ErrorIs(t, err, ErrManagementFeeTooHigh)

		tooHighPerf := MaxPerformanceFeeBps + 1
		err = env.vault.UpdateConfig("authority", ConfigUpdate{PerformanceFeeBps: &tooHighPerf})
		assert.ErrorIs(t, err, ErrPerformanceFeeTooHigh)
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		mgmt := uint16(25)
		cap := uint64(5_000_000_000)
		err := env.vault.UpdateConfig("authority", ConfigUpdate{
			ManagementFeeBps: &mgmt,
			DepositCap:       &cap,
		})
		require.NoError(t, err)

		cfg := env.vault.State().Config
		assert.Equal(t, uint16(25), cfg.ManagementFeeBps)
		assert.Equal(t, uint64(5_000_000_000), cfg.DepositCap)
		// Untouched fields keep their values.
		assert.Equal(t, DefaultPerformanceFeeBps, cfg.PerformanceFeeBps)
	})
}

func TestUpdateAllocations(t *testing.T) {
	env := newTestEnv(t)

	t.Run("NonAuthorityRejected", func(t *testing.T) {
		err := env.vault.UpdateAllocations("mallory", defaultTargets())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("SumMustBeExact", func(t *testing.T) {
		err := env.vault.UpdateAllocations("authority", []AllocationTarget{
			{Protocol: ProtocolJito, TargetBps: 5_000},
			{Protocol: ProtocolMarinade, TargetBps: 4_999},
		})
		assert.ErrorIs(t, err, ErrInvalidAllocationSum)
	})

	t.Run("DuplicateProtocol", func(t *testing.T) {
		err := env.vault.UpdateAllocations("authority", []AllocationTarget{
			{Protocol: ProtocolJito, TargetBps: 5_000},
			{Protocol: ProtocolJito, TargetBps: 5_000},
		})
		assert.ErrorIs(t, err, ErrDuplicateProtocol)
	})

	t.Run("PerProtocolCap", func(t *testing.T) {
		err := env.vault.UpdateAllocations("authority", []AllocationTarget{
			{Protocol: ProtocolJito, TargetBps: 5_001},
			{Protocol: ProtocolMarinade, TargetBps: 4_999},
		})
		assert.ErrorIs(t, err, ErrAllocationExceedsMax)
	})

	t.Run("UnknownProtocol", func(t *testing.T) {
		err := env.vault.UpdateAllocations("authority", []AllocationTarget{
			{Protocol: Protocol(200), TargetBps: 10_000},
		})
		assert.ErrorIs(t, err, ErrUnsupportedProtocol)
	})

	t.Run("ReplaceTable", func(t *testing.T) {
		err := env.vault.UpdateAllocations("authority", []AllocationTarget{
			{Protocol: ProtocolJito, TargetBps: 4_000},
			{Protocol: ProtocolMarinade, TargetBps: 3_000},
			{Protocol: ProtocolLido, TargetBps: 3_000},
		})
		require.NoError(t, err)

		st := env.vault.State()
		require.Len(t, st.Allocations, 3)
		assert.Equal(t, uint16(4_000), st.Allocations[0].TargetBps)
		assert.Equal(t, uint16(0), st.Allocations[0].CurrentBps)
		assert.Equal(t, uint64(0), st.Allocations[0].Value)
	})
}
