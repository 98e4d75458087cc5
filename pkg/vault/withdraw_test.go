package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestWithdraw(t *testing.T) {
	t.Run("EscrowsShares", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)

		req, err := env.vault.RequestWithdraw("alice", shares/2)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), req.ID)
		assert.Equal(t, shares/2, req.Shares)
		assert.Equal(t, WithdrawPending, req.Status)
		assert.Equal(t, env.clock.Now().Add(MaturityDelay), req.ReadyAt)

		pos, err := env.vault.Position("alice")
		require.NoError(t, err)
		assert.Equal(t, shares-shares/2, pos.Shares)
		assert.Equal(t, uint64(1), pos.PendingWithdrawals)

		// Vault totals are untouched until completion.
		st := env.vault.State()
		assert.Equal(t, MinDeposit, st.TotalValue)
		assert.Equal(t, shares, st.TotalShares)
	})

	t.Run("ZeroShares", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.vault.RequestWithdraw("alice", 0)
		assert.ErrorIs(t, err, ErrZeroAmount)
	})

	t.Run("NoPosition", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.vault.RequestWithdraw("alice", 100)
		assert.ErrorIs(t, err, ErrPositionNotFound)
	})

	t.Run("MoreThanHeld", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		_, err = env.vault.RequestWithdraw("alice", shares+1)
		assert.ErrorIs(t, err, ErrInsufficientShares)
	})

	t.Run("WhilePaused", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		require.NoError(t, env.vault.Pause("authority"))
		_, err = env.vault.RequestWithdraw("alice", shares)
		assert.ErrorIs(t, err, ErrVaultPaused)
	})

	t.Run("RequestIDsIncrement", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)

		r1, err := env.vault.RequestWithdraw("alice", shares/4)
		require.NoError(t, err)
		r2, err := env.vault.RequestWithdraw("alice", shares/4)
		require.NoError(t, err)
		assert.Equal(t, r1.ID+1, r2.ID)
		assert.Equal(t, uint64(0), r1.RequestIndex)
		assert.Equal(t, uint64(1), r2.RequestIndex)
	})
}

func TestCompleteWithdraw(t *testing.T) {
	t.Run("FullCycleReturnsDeposit", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)

		req, err := env.vault.RequestWithdraw("alice", shares)
		require.NoError(t, err)

		env.clock.Advance(MaturityDelay)
		value, err := env.vault.CompleteWithdraw("alice", req.ID)
		require.NoError(t, err)

		// All outstanding shares were redeemed, so the full deposit
		// comes back including the dead-share premium.
		assert.Equal(t, MinDeposit, value)

		st := env.vault.State()
		assert.Equal(t, uint64(0), st.TotalValue)
		assert.Equal(t, uint64(0), st.TotalShares)

		pos, err := env.vault.Position("alice")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), pos.Shares)
		assert.Equal(t, uint64(0), pos.PendingWithdrawals)
		assert.Equal(t, MinDeposit, pos.TotalWithdrawn)

		assert.Equal(t, int64(0), env.custody.Balance("vault"))
		assert.Equal(t, int64(0), env.custody.Balance("alice"))
		assert.Equal(t, uint64(0), env.issuer.Supply())

		got, err := env.vault.Request(req.ID)
		require.NoError(t, err)
		assert.Equal(t, WithdrawCompleted, got.Status)
	})

	t.Run("BeforeMaturity", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		req, err := env.vault.RequestWithdraw("alice", shares)
		require.NoError(t, err)

		env.clock.Advance(MaturityDelay - time.Second)
		_, err = env.vault.CompleteWithdraw("alice", req.ID)
		assert.ErrorIs(t, err, ErrWithdrawNotReady)
	})

	t.Run("UnknownRequest", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.vault.CompleteWithdraw("alice", 42)
		assert.ErrorIs(t, err, ErrWithdrawNotFound)
	})

	t.Run("WrongOwner", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		req, err := env.vault.RequestWithdraw("alice", shares)
		require.NoError(t, err)

		env.clock.Advance(MaturityDelay)
		_, err = env.vault.CompleteWithdraw("mallory", req.ID)
		assert.ErrorIs(t, err, ErrNotRequestOwner)
	})

	t.Run("AlreadyProcessed", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		req, err := env.vault.RequestWithdraw("alice", shares)
		require.NoError(t, err)

		env.clock.Advance(MaturityDelay)
		_, err = env.vault.CompleteWithdraw("alice", req.ID)
		require.NoError(t, err)
		_, err = env.vault.CompleteWithdraw("alice", req.ID)
		assert.ErrorIs(t, err, ErrWithdrawAlreadyProcessed)
	})

	t.Run("RepricesAtCompletion", func(t *testing.T) {
		env := newTestEnv(t)
		aliceShares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)

		req, err := env.vault.RequestWithdraw("alice", aliceShares)
		require.NoError(t, err)
		estimated := req.EstimatedValue

		// A second deposit shifts the pool ratio before completion.
		env.clock.Advance(time.Hour)
		_, err = env.vault.Deposit("bob", 10*MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)

		env.clock.Advance(MaturityDelay)
		actual, err := env.vault.CompleteWithdraw("alice", req.ID)
		require.NoError(t, err)

		// Same share price either side of bob's pro-rata deposit, so
		// the payout matches the estimate to within rounding.
		assert.InDelta(t, float64(estimated), float64(actual), 2)
	})

	t.Run("MaturedRequestReadsAsReady", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		req, err := env.vault.RequestWithdraw("alice", shares)
		require.NoError(t, err)

		got, err := env.vault.Request(req.ID)
		require.NoError(t, err)
		assert.Equal(t, WithdrawPending, got.Status)

		env.clock.Advance(MaturityDelay)
		got, err = env.vault.Request(req.ID)
		require.NoError(t, err)
		assert.Equal(t, WithdrawReady, got.Status)

		pending := env.vault.PendingRequests("alice")
		require.Len(t, pending, 1)
		assert.Equal(t, WithdrawReady, pending[0].Status)
	})
}

func TestCancelWithdraw(t *testing.T) {
	t.Run("ReturnsEscrow", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		req, err := env.vault.RequestWithdraw("alice", shares)
		require.NoError(t, err)

		require.NoError(t, env.vault.CancelWithdraw("alice", req.ID))

		pos, err := env.vault.Position("alice")
		require.NoError(t, err)
		assert.Equal(t, shares, pos.Shares)
		assert.Equal(t, uint64(0), pos.PendingWithdrawals)

		got, err := env.vault.Request(req.ID)
		require.NoError(t, err)
		assert.Equal(t, WithdrawCancelled, got.Status)
	})

	t.Run("WrongOwner", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		req, err := env.vault.RequestWithdraw("alice", shares)
		require.NoError(t, err)
		assert.ErrorIs(t, env.vault.CancelWithdraw("mallory", req.ID), ErrNotRequestOwner)
	})

	t.Run("AlreadyCompleted", func(t *testing.T) {
		env := newTestEnv(t)
		shares, err := env.vault.Deposit("alice", MinDeposit, env.freshQuote(SharePrecision))
		require.NoError(t, err)
		req, err := env.vault.RequestWithdraw("alice", shares)
		require.NoError(t, err)

		env.clock.Advance(MaturityDelay)
		_, err = env.vault.CompleteWithdraw("alice", req.ID)
		require.NoError(t, err)
		assert.ErrorIs(t, env.vault.CancelWithdraw("alice", req.ID), ErrWithdrawAlreadyProcessed)
	})
}
