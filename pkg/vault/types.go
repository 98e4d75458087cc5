package vault

import "time"

// Basis point and share-price precision constants. 10000 bps = 100%.
const (
	BpsDenominator     uint64 = 10_000
	SharePrecision     uint64 = 1_000_000_000
	TotalAllocationBps uint16 = 10_000
	SecondsPerYear     uint64 = 31_536_000
)

// Fee and allocation limits.
const (
	DefaultManagementFeeBps  uint16 = 50   // 0.5%
	MaxManagementFeeBps      uint16 = 100  // 1%
	DefaultPerformanceFeeBps uint16 = 1000 // 10%
	MaxPerformanceFeeBps     uint16 = 2000 // 20%

	MaxProtocolAllocationBps uint16 = 5000 // 50%
	MaxProtocols                    = 10

	DefaultRebalanceThresholdBps uint16 = 500
	DefaultMaxSlippageBps        uint16 = 100
)

// Deposit and withdrawal limits.
const (
	// MinDeposit is 0.1 units of the base asset at 9 decimals.
	MinDeposit uint64 = 100_000_000

	// MinimumInitialShares is the dead-share floor withheld from the first
	// depositor to deter share-price manipulation.
	MinimumInitialShares uint64 = 1_000

	// MaturityDelay approximates underlying unstaking latency (3 days).
	MaturityDelay = 259_200 * time.Second

	// MinRebalanceInterval gates permissionless rebalance calls.
	MinRebalanceInterval = time.Hour
)

// Price gate defaults.
const (
	MaxPriceStaleness    = 60 * time.Second
	MaxPriceDeviationBps uint16 = 500
)

// Protocol identifies a yield-bearing sub-strategy the vault can
// allocate into.
type Protocol uint8

const (
	ProtocolJito Protocol = iota
	ProtocolMarinade
	ProtocolBlazeStake
	ProtocolLido
	ProtocolNative
	ProtocolJupiter

	numProtocols
)

// Valid reports whether p names a known protocol.
func (p Protocol) Valid() bool {
	return p < numProtocols
}

func (p Protocol) String() string {
	switch p {
	case ProtocolJito:
		return "Jito"
	case ProtocolMarinade:
		return "Marinade"
	case ProtocolBlazeStake:
		return "BlazeStake"
	case ProtocolLido:
		return "Lido"
	case ProtocolNative:
		return "Native"
	case ProtocolJupiter:
		return "Jupiter"
	default:
		return "Unknown"
	}
}

// Symbol returns the yield token symbol for the protocol.
func (p Protocol) Symbol() string {
	switch p {
	case ProtocolJito:
		return "jitoSOL"
	case ProtocolMarinade:
		return "mSOL"
	case ProtocolBlazeStake:
		return "bSOL"
	case ProtocolLido:
		return "stSOL"
	case ProtocolNative:
		return "SOL"
	case ProtocolJupiter:
		return "JupSOL"
	default:
		return ""
	}
}

// UnstakingDelay returns the protocol's native unbonding latency.
func (p Protocol) UnstakingDelay() time.Duration {
	switch p {
	case ProtocolBlazeStake:
		return 48 * time.Hour
	case ProtocolJupiter:
		return 24 * time.Hour
	default:
		return 0
	}
}

// SupportsInstantUnstake reports whether the protocol offers immediate
// redemption (for a fee).
func (p Protocol) SupportsInstantUnstake() bool {
	return p == ProtocolJito || p == ProtocolMarinade
}

// InstantUnstakeFeeBps returns the instant redemption fee, 0 if
// unsupported.
func (p Protocol) InstantUnstakeFeeBps() uint16 {
	switch p {
	case ProtocolJito:
		return 10
	case ProtocolMarinade:
		return 30
	default:
		return 0
	}
}

// IndicativeAPYBps returns a placeholder yield figure in basis points.
// A production deployment sources these from protocol state accounts.
func (p Protocol) IndicativeAPYBps() uint64 {
	switch p {
	case ProtocolJito:
		return 750
	case ProtocolMarinade:
		return 670
	case ProtocolBlazeStake:
		return 680
	case ProtocolLido:
		return 650
	case ProtocolNative:
		return 600
	case ProtocolJupiter:
		return 700
	default:
		return 0
	}
}

// Allocation records target versus observed pool share for one protocol.
type Allocation struct {
	Protocol   Protocol `json:"protocol"`
	TargetBps  uint16   `json:"targetBps"`
	CurrentBps uint16   `json:"currentBps"`
	Value      uint64   `json:"value"`
}

// AllocationTarget is one entry of an admin allocation update.
type AllocationTarget struct {
	Protocol  Protocol `json:"protocol"`
	TargetBps uint16   `json:"targetBps"`
}

// VaultConfig holds the tunable vault parameters.
type VaultConfig struct {
	ManagementFeeBps      uint16 `json:"managementFeeBps"`
	PerformanceFeeBps     uint16 `json:"performanceFeeBps"`
	RebalanceThresholdBps uint16 `json:"rebalanceThresholdBps"`
	MaxSlippageBps        uint16 `json:"maxSlippageBps"`
	DepositCap            uint64 `json:"depositCap"` // 0 = unbounded
	IsPaused              bool   `json:"isPaused"`
}

// DefaultVaultConfig returns the standard parameter set.
func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		ManagementFeeBps:      DefaultManagementFeeBps,
		PerformanceFeeBps:     DefaultPerformanceFeeBps,
		RebalanceThresholdBps: DefaultRebalanceThresholdBps,
		MaxSlippageBps:        DefaultMaxSlippageBps,
	}
}

// ConfigUpdate carries optional per-field configuration changes. Nil
// fields are left untouched.
type ConfigUpdate struct {
	ManagementFeeBps      *uint16 `json:"managementFeeBps,omitempty"`
	PerformanceFeeBps     *uint16 `json:"performanceFeeBps,omitempty"`
	RebalanceThresholdBps *uint16 `json:"rebalanceThresholdBps,omitempty"`
	MaxSlippageBps        *uint16 `json:"maxSlippageBps,omitempty"`
	DepositCap            *uint64 `json:"depositCap,omitempty"`
}

// UserPosition tracks a depositor's share balance and activity. Created
// on first deposit, never deleted.
type UserPosition struct {
	Owner              string    `json:"owner"`
	Shares             uint64    `json:"shares"`
	TotalDeposited     uint64    `json:"totalDeposited"`
	TotalWithdrawn     uint64    `json:"totalWithdrawn"`
	FirstDeposit       time.Time `json:"firstDeposit"`
	LastActivity       time.Time `json:"lastActivity"`
	PendingWithdrawals uint64    `json:"pendingWithdrawals"`
}

// WithdrawStatus is the lifecycle state of a withdrawal request.
type WithdrawStatus uint8

const (
	WithdrawPending WithdrawStatus = iota
	WithdrawReady                  // derived, never stored
	WithdrawCompleted
	WithdrawCancelled
)

func (s WithdrawStatus) String() string {
	switch s {
	case WithdrawPending:
		return "pending"
	case WithdrawReady:
		return "ready"
	case WithdrawCompleted:
		return "completed"
	case WithdrawCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// WithdrawRequest is one two-phase withdrawal. Shares are escrowed out
// of the owner's position at creation; EstimatedValue is the quote at
// request time and is informational only; completion re-prices.
type WithdrawRequest struct {
	ID             uint64         `json:"id"`
	Owner          string         `json:"owner"`
	Shares         uint64         `json:"shares"`
	EstimatedValue uint64         `json:"estimatedValue"`
	CreatedAt      time.Time      `json:"createdAt"`
	ReadyAt        time.Time      `json:"readyAt"`
	Status         WithdrawStatus `json:"status"`
	RequestIndex   uint64         `json:"requestIndex"`
}

// FeeCollection summarizes one fee-engine run.
type FeeCollection struct {
	ManagementFee  uint64    `json:"managementFee"`
	PerformanceFee uint64    `json:"performanceFee"`
	Total          uint64    `json:"total"`
	SharePrice     uint64    `json:"sharePrice"`
	CollectedAt    time.Time `json:"collectedAt"`
}
