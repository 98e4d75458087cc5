package vault

import (
	"sync"
	"time"
)

// EventType discriminates event payloads on the feed.
type EventType string

const (
	EventVaultInitialized  EventType = "vault_initialized"
	EventDeposit           EventType = "deposit"
	EventWithdrawRequested EventType = "withdraw_requested"
	EventWithdrawCompleted EventType = "withdraw_completed"
	EventWithdrawCancelled EventType = "withdraw_cancelled"
	EventFeeCollection     EventType = "fee_collection"
	EventRebalance         EventType = "rebalance"
	EventVaultPaused       EventType = "vault_paused"
	EventConfigUpdated     EventType = "config_updated"
)

// Event is one record on the vault event feed.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// DepositData is emitted for every accepted deposit.
type DepositData struct {
	Owner        string `json:"owner"`
	Amount       uint64 `json:"amount"`
	SharesMinted uint64 `json:"sharesMinted"`
	SharePrice   uint64 `json:"sharePrice"` // pre-deposit price
}

// WithdrawRequestData is emitted when a withdrawal request is created.
type WithdrawRequestData struct {
	Owner          string    `json:"owner"`
	RequestID      uint64    `json:"requestId"`
	Shares         uint64    `json:"shares"`
	EstimatedValue uint64    `json:"estimatedValue"`
	ReadyAt        time.Time `json:"readyAt"`
}

// WithdrawCompleteData is emitted when a request completes or cancels.
type WithdrawCompleteData struct {
	Owner         string `json:"owner"`
	RequestID     uint64 `json:"requestId"`
	Shares        uint64 `json:"shares"`
	ValueReceived uint64 `json:"valueReceived"`
}

// RebalanceData carries before/after allocation percentages.
type RebalanceData struct {
	OldBps       []uint16 `json:"oldBps"`
	NewBps       []uint16 `json:"newBps"`
	MaxDeviation uint16   `json:"maxDeviation"`
	Count        uint64   `json:"count"`
}

// PausedData is emitted on pause state changes.
type PausedData struct {
	IsPaused bool `json:"isPaused"`
}

// ConfigUpdatedData is emitted once per changed config field.
type ConfigUpdatedData struct {
	Field    string `json:"field"`
	OldValue uint64 `json:"oldValue"`
	NewValue uint64 `json:"newValue"`
}

// EventFeed fans events out to subscribers. Publishing never blocks;
// slow subscribers drop events rather than stalling the engine.
type EventFeed struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// NewEventFeed creates a feed whose subscriber channels hold up to
// buffer events.
func NewEventFeed(buffer int) *EventFeed {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventFeed{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events and a cancel function.
func (f *EventFeed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan Event, f.buffer)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers, dropping it for any
// subscriber whose buffer is full.
func (f *EventFeed) Publish(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
