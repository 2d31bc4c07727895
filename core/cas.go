package core

import (
	"errors"
	"sync"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ErrNotFound is returned by CAS.Get when the content ID is unknown.
var ErrNotFound = errors.New("cas: not found")

// CAS is the content-addressable store consumed by COMMIT and artifact
// resolution.
type CAS interface {
	Put(data []byte) (cid.Cid, error)
	Get(c cid.Cid) ([]byte, error)
	Has(c cid.Cid) bool
	Pin(c cid.Cid) error
	Unpin(c cid.Cid) error
	ListPins() []cid.Cid
	GC() int
}

// BlobStore is an in-memory CAS keyed by a sha256 multihash CID (codec
// raw), with reference-counted pinning and a sweep GC for unpinned blobs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	pins map[string]int
}

// NewBlobStore returns an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte), pins: make(map[string]int)}
}

func cidFor(data []byte) (cid.Cid, error) {
	h, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Cid{}, err
	}
	return cid.NewCidV1(cid.Raw, h), nil
}

// Put stores data and returns its content ID, idempotent on repeat puts of
// identical bytes.
func (b *BlobStore) Put(data []byte) (cid.Cid, error) {
	c, err := cidFor(data)
	if err != nil {
		return cid.Cid{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[c.String()] = append([]byte(nil), data...)
	return c, nil
}

// Get returns the bytes stored under c, or ErrNotFound.
func (b *BlobStore) Get(c cid.Cid) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.data[c.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Has reports whether c is stored.
func (b *BlobStore) Has(c cid.Cid) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[c.String()]
	return ok
}

// Pin increments c's pin count, protecting it from GC.
func (b *BlobStore) Pin(c cid.Cid) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[c.String()]; !ok {
		return ErrNotFound
	}
	b.pins[c.String()]++
	return nil
}

// Unpin decrements c's pin count; it is eligible for GC once it reaches
// zero.
func (b *BlobStore) Unpin(c cid.Cid) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := c.String()
	if b.pins[key] <= 1 {
		delete(b.pins, key)
		return nil
	}
	b.pins[key]--
	return nil
}

// ListPins returns every currently-pinned CID.
func (b *BlobStore) ListPins() []cid.Cid {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]cid.Cid, 0, len(b.pins))
	for key := range b.pins {
		if c, err := cid.Decode(key); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// GC removes every stored blob with no remaining pins, returning the count
// removed.
func (b *BlobStore) GC() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for key := range b.data {
		if b.pins[key] > 0 {
			continue
		}
		delete(b.data, key)
		removed++
	}
	return removed
}
