package vault

import "errors"

// Validation errors: rejected before any mutation, retryable with
// corrected input.
var (
	ErrZeroAmount            = errors.New("amount must be greater than zero")
	ErrDepositBelowMinimum   = errors.New("deposit amount is below the minimum required")
	ErrDepositCapExceeded    = errors.New("deposit would exceed vault's deposit cap")
	ErrInvalidAllocationSum  = errors.New("allocations must sum to exactly 10000 basis points")
	ErrAllocationExceedsMax  = errors.New("single protocol allocation cannot exceed 5000 basis points")
	ErrTooManyProtocols      = errors.New("maximum number of protocols exceeded")
	ErrDuplicateProtocol     = errors.New("duplicate protocol in allocation list")
	ErrManagementFeeTooHigh  = errors.New("management fee cannot exceed 100 basis points")
	ErrPerformanceFeeTooHigh = errors.New("performance fee cannot exceed 2000 basis points")
	ErrUnsupportedProtocol   = errors.New("protocol is not supported")
)

// Arithmetic errors: always abort the whole operation with no partial
// state change.
var (
	ErrMathOverflow   = errors.New("arithmetic operation resulted in overflow")
	ErrMathUnderflow  = errors.New("arithmetic operation resulted in underflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// State errors: retryable once the precondition holds.
var (
	ErrVaultPaused              = errors.New("vault is currently paused")
	ErrVaultNotPaused           = errors.New("vault is not paused")
	ErrWithdrawNotFound         = errors.New("withdrawal request not found")
	ErrWithdrawNotReady         = errors.New("withdrawal request is not yet ready to be completed")
	ErrWithdrawAlreadyProcessed = errors.New("withdrawal request has already been processed")
	ErrRebalanceThresholdNotMet = errors.New("current allocation deviation is below rebalance threshold")
	ErrRebalanceTooSoon         = errors.New("minimum time between rebalances has not elapsed")
	ErrInsufficientShares       = errors.New("insufficient shares for withdrawal")
	ErrPositionNotFound         = errors.New("no position found for owner")
)

// Authorization errors: fatal for the calling identity.
var (
	ErrUnauthorized    = errors.New("unauthorized: caller is not the vault authority")
	ErrNotRequestOwner = errors.New("unauthorized: caller does not own this withdrawal request")
)

// Liquidity errors: request stays pending, retryable once value returns.
var ErrInsufficientLiquidity = errors.New("insufficient vault liquidity for withdrawal")

// Price gate errors.
var (
	ErrStalePrice     = errors.New("oracle price data is stale")
	ErrPriceDeviation = errors.New("oracle price deviation exceeds maximum allowed")
)
