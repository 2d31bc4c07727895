package core

import (
	"bytes"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// StateStore is a minimal ordered key-value abstraction shared by the
// rolestore and the bbolt-backed DECIDE adapter. It mirrors the donor
// ledger's HasState/SetState/DeleteState/PrefixIterator shape so callers
// written against that idiom carry over unchanged.
type StateStore interface {
	HasState(key []byte) (bool, error)
	SetState(key, value []byte) error
	GetState(key []byte) ([]byte, bool, error)
	DeleteState(key []byte) error
	PrefixIterator(prefix []byte) StateIterator
}

// StateIterator walks keys sharing a common prefix in ascending order.
type StateIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
}

// MemStateStore is an in-memory StateStore, used in tests and for
// components that do not need durability across restarts.
type MemStateStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStateStore returns an empty in-memory store.
func NewMemStateStore() *MemStateStore {
	return &MemStateStore{data: make(map[string][]byte)}
}

func (m *MemStateStore) HasState(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemStateStore) SetState(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), value...)
	m.data[string(key)] = cp
	return nil
}

func (m *MemStateStore) GetState(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemStateStore) DeleteState(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemStateStore) PrefixIterator(prefix []byte) StateIterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = m.data[k]
	}
	return &memIterator{keys: keys, vals: vals, idx: -1}
}

type memIterator struct {
	keys []string
	vals [][]byte
	idx  int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}

func (it *memIterator) Key() []byte   { return []byte(it.keys[it.idx]) }
func (it *memIterator) Value() []byte { return it.vals[it.idx] }
func (it *memIterator) Error() error  { return nil }

// BoltStateStore is a StateStore backed by a single bbolt bucket, used for
// durable rolestore and DECIDE-adapter persistence across restarts.
type BoltStateStore struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBoltStateStore opens (creating if absent) a bbolt database at path
// and ensures bucket exists.
func OpenBoltStateStore(path string, bucket string) (*BoltStateStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	b := []byte(bucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStateStore{db: db, bucket: b}, nil
}

// Close releases the underlying database handle.
func (s *BoltStateStore) Close() error { return s.db.Close() }

func (s *BoltStateStore) HasState(key []byte) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get(key)
		found = v != nil
		return nil
	})
	return found, err
}

func (s *BoltStateStore) SetState(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put(key, value)
	})
}

func (s *BoltStateStore) GetState(key []byte) ([]byte, bool, error) {
	var out []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return out, ok, err
}

func (s *BoltStateStore) DeleteState(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(key)
	})
}

// PrefixIterator snapshots all matching keys into memory; bbolt cursors are
// only valid within a transaction, so this avoids leaking one to the caller.
func (s *BoltStateStore) PrefixIterator(prefix []byte) StateIterator {
	var keys []string
	var vals [][]byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			keys = append(keys, string(k))
			vals = append(vals, append([]byte(nil), v...))
		}
		return nil
	})
	return &memIterator{keys: keys, vals: vals, idx: -1}
}
