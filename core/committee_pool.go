package core

import (
	"fmt"
	"sync"
)

// VerifierManifest is a verifier's registered identity and stake.
type VerifierManifest struct {
	VerifierID    Address
	Stake         float64
	Capabilities  []string
	OrgID         string
	ASN           string
	Region        string
	Reputation    float64
	RegisteredAtNs int64
	Active        bool
}

// VerifierPool is the registry of verifier manifests keyed by DID
// (verifier_id), with a secondary capability-tag index so callers can
// filter active verifiers by capability without a linear scan.
type VerifierPool struct {
	mu        sync.RWMutex
	manifests map[Address]*VerifierManifest
	byCap     map[string]map[Address]struct{}
}

// NewVerifierPool returns an empty pool.
func NewVerifierPool() *VerifierPool {
	return &VerifierPool{
		manifests: make(map[Address]*VerifierManifest),
		byCap:     make(map[string]map[Address]struct{}),
	}
}

// Register adds or replaces a verifier's manifest.
func (vp *VerifierPool) Register(m VerifierManifest) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	cp := m
	vp.manifests[m.VerifierID] = &cp
	for _, cap := range m.Capabilities {
		set, ok := vp.byCap[cap]
		if !ok {
			set = make(map[Address]struct{})
			vp.byCap[cap] = set
		}
		set[m.VerifierID] = struct{}{}
	}
}

// Activate marks a registered verifier active.
func (vp *VerifierPool) Activate(id Address) error {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	m, ok := vp.manifests[id]
	if !ok {
		return fmt.Errorf("committee: unknown verifier %s", id)
	}
	m.Active = true
	return nil
}

// Deactivate marks a registered verifier inactive.
func (vp *VerifierPool) Deactivate(id Address) error {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	m, ok := vp.manifests[id]
	if !ok {
		return fmt.Errorf("committee: unknown verifier %s", id)
	}
	m.Active = false
	return nil
}

// Get returns a copy of the manifest for id, if registered.
func (vp *VerifierPool) Get(id Address) (VerifierManifest, bool) {
	vp.mu.RLock()
	defer vp.mu.RUnlock()
	m, ok := vp.manifests[id]
	if !ok {
		return VerifierManifest{}, false
	}
	return *m, true
}

// ActiveVerifiers returns active manifests with stake >= minStake. When cap
// is non-empty, results are further restricted to verifiers advertising
// that capability.
func (vp *VerifierPool) ActiveVerifiers(minStake float64, cap string) []VerifierManifest {
	vp.mu.RLock()
	defer vp.mu.RUnlock()
	var candidates map[Address]struct{}
	if cap != "" {
		candidates = vp.byCap[cap]
	}
	out := make([]VerifierManifest, 0, len(vp.manifests))
	for id, m := range vp.manifests {
		if !m.Active || m.Stake < minStake {
			continue
		}
		if candidates != nil {
			if _, ok := candidates[id]; !ok {
				continue
			}
		}
		out = append(out, *m)
	}
	return out
}

// ActiveCount returns the number of active verifiers, used by the bootstrap
// manager to decide k_plan.
func (vp *VerifierPool) ActiveCount() int {
	vp.mu.RLock()
	defer vp.mu.RUnlock()
	n := 0
	for _, m := range vp.manifests {
		if m.Active {
			n++
		}
	}
	return n
}
