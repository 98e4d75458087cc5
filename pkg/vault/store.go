package vault

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/database"
)

// Storage keys. Ledger state lives under a single key; positions and
// withdrawal requests are prefixed so they can be scanned back on
// restart.
var (
	keyLedger      = []byte("ledger")
	prefixPosition = []byte("user/")
	prefixRequest  = []byte("wreq/")
)

// Store persists vault state as JSON snapshots in a key-value
// database. The in-memory engine is authoritative; the store exists so
// a restarted host can rebuild the engine from the last committed
// snapshot.
type Store struct {
	db database.Database
}

// NewStore wraps db in a vault store.
func NewStore(db database.Database) *Store {
	return &Store{db: db}
}

// SaveLedger writes the ledger snapshot.
func (s *Store) SaveLedger(st State) error {
	val, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	return s.db.Put(keyLedger, val)
}

// SavePosition writes one user position.
func (s *Store) SavePosition(p UserPosition) error {
	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", p.Owner, err)
	}
	return s.db.Put(positionKey(p.Owner), val)
}

// SaveRequest writes one withdrawal request.
func (s *Store) SaveRequest(r WithdrawRequest) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal request %d: %w", r.ID, err)
	}
	return s.db.Put(requestKey(r.ID), val)
}

// LoadLedger reads the ledger snapshot. A missing key means no state
// was ever persisted and is reported as (zero, false, nil).
func (s *Store) LoadLedger() (State, bool, error) {
	val, err := s.db.Get(keyLedger)
	if err != nil {
		if err == database.ErrNotFound {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal(val, &st); err != nil {
		return State{}, false, fmt.Errorf("unmarshal ledger: %w", err)
	}
	return st, true, nil
}

// LoadPositions scans all persisted user positions.
func (s *Store) LoadPositions() (map[string]*UserPosition, error) {
	out := make(map[string]*UserPosition)
	it := s.db.NewIteratorWithPrefix(prefixPosition)
	defer it.Release()
	for it.Next() {
		var p UserPosition
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			return nil, fmt.Errorf("unmarshal position %s: %w", it.Key(), err)
		}
		out[p.Owner] = &p
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadRequests scans all persisted withdrawal requests.
func (s *Store) LoadRequests() (map[uint64]*WithdrawRequest, error) {
	out := make(map[uint64]*WithdrawRequest)
	it := s.db.NewIteratorWithPrefix(prefixRequest)
	defer it.Release()
	for it.Next() {
		var r WithdrawRequest
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("unmarshal request %s: %w", it.Key(), err)
		}
		out[r.ID] = &r
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func positionKey(owner string) []byte {
	return append(append([]byte{}, prefixPosition...), owner...)
}

func requestKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", prefixRequest, id))
}

// Restore rebuilds engine state from the store. It must be called on a
// freshly constructed vault before any operation runs; a vault with no
// persisted ledger is left untouched.
func (v *Vault) Restore() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.store == nil {
		return nil
	}
	st, ok, err := v.store.LoadLedger()
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if !ok {
		v.logger.Info("No persisted state found, starting fresh")
		return nil
	}

	v.totalValue = st.TotalValue
	v.totalShares = st.TotalShares
	v.highWaterMark = st.HighWaterMark
	v.accruedManagementFees = st.AccruedManagementFees
	v.accruedPerformanceFees = st.AccruedPerformanceFees
	v.lastFeeCollection = st.LastFeeCollection
	v.lastRebalance = st.LastRebalance
	v.rebalanceCount = st.RebalanceCount
	v.depositorCount = st.DepositorCount
	v.config = st.Config
	v.numAllocations = len(st.Allocations)
	for i := range v.allocations {
		v.allocations[i] = Allocation{}
	}
	copy(v.allocations[:], st.Allocations)

	positions, err := v.store.LoadPositions()
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	v.positions = positions

	requests, err := v.store.LoadRequests()
	if err != nil {
		return fmt.Errorf("load requests: %w", err)
	}
	v.requests = requests
	for id := range requests {
		if id >= v.nextRequestID {
			v.nextRequestID = id + 1
		}
	}

	v.logger.Info("State restored",
		"totalValue", v.totalValue,
		"totalShares", v.totalShares,
		"positions", len(v.positions),
		"requests", len(v.requests))
	return nil
}
