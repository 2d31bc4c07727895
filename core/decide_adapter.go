package core

import (
	"encoding/json"
	"sync"
)

// DecideRecord is the global, per-NEED record of which proposal won.
type DecideRecord struct {
	NeedID      string
	ProposalID  string
	Epoch       int64
	Lamport     int64
	KPlan       int
	DeciderID   Address
	TimestampNs int64
}

// DecideCoordinator provides the at-most-one-DECIDE-per-NEED contract of
// §4.6: TryDecide returns the record if this call is the first to
// successfully register for need_id with true, or the already-registered
// record with false on conflict. No two
// callers may both observe success for the same need_id.
type DecideCoordinator interface {
	TryDecide(rec DecideRecord) (DecideRecord, bool, error)
	Get(needID string) (DecideRecord, bool, error)
}

// MemoryDecideAdapter is a single-process, mutex-serialized DecideCoordinator.
// It is the simplest implementation of the CAS semantics §4.6 requires and
// is used by the in-process devnet and in tests.
type MemoryDecideAdapter struct {
	mu      sync.Mutex
	records map[string]DecideRecord
}

// NewMemoryDecideAdapter returns an empty adapter.
func NewMemoryDecideAdapter() *MemoryDecideAdapter {
	return &MemoryDecideAdapter{records: make(map[string]DecideRecord)}
}

func (a *MemoryDecideAdapter) TryDecide(rec DecideRecord) (DecideRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.records[rec.NeedID]; ok {
		return existing, false, nil
	}
	a.records[rec.NeedID] = rec
	return rec, true, nil
}

func (a *MemoryDecideAdapter) Get(needID string) (DecideRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[needID]
	return rec, ok, nil
}

// BoltDecideAdapter is a StateStore-backed DecideCoordinator representing
// the "strongly-consistent key-value store with compare-and-set" option
// named in §4.6, persisted across restarts. bbolt's single-writer
// transaction model gives the CAS-on-absent semantics the adapter needs
// without an external coordinator process.
type BoltDecideAdapter struct {
	mu    sync.Mutex
	store StateStore
}

// NewBoltDecideAdapter wires the adapter against a durable StateStore
// (typically a *BoltStateStore).
func NewBoltDecideAdapter(store StateStore) *BoltDecideAdapter {
	return &BoltDecideAdapter{store: store}
}

func decideKey(needID string) []byte { return []byte("decide/" + needID) }

// TryDecide holds a process-local mutex across its check-then-set sequence
// so the compare-and-set is linearizable even though the underlying
// StateStore's HasState/SetState are separate calls; a distributed backend
// would instead rely on the store's native CAS primitive.
func (a *BoltDecideAdapter) TryDecide(rec DecideRecord) (DecideRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := decideKey(rec.NeedID)
	has, err := a.store.HasState(key)
	if err != nil {
		return DecideRecord{}, false, err
	}
	if has {
		existing, _, err := a.Get(rec.NeedID)
		return existing, false, err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return DecideRecord{}, false, err
	}
	if err := a.store.SetState(key, b); err != nil {
		return DecideRecord{}, false, err
	}
	return rec, true, nil
}

func (a *BoltDecideAdapter) Get(needID string) (DecideRecord, bool, error) {
	v, ok, err := a.store.GetState(decideKey(needID))
	if err != nil || !ok {
		return DecideRecord{}, ok, err
	}
	var rec DecideRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return DecideRecord{}, false, err
	}
	return rec, true, nil
}
