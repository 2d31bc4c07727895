package core

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"
)

// ErrInsufficientVerifiers is returned when fewer than k candidates meet
// the minimum stake requirement.
var ErrInsufficientVerifiers = errors.New("committee: insufficient verifiers")

// DiversityCaps bounds the fraction of a committee that may share an org,
// ASN, or region.
type DiversityCaps struct {
	MaxOrgFrac    float64
	MaxASNFrac    float64
	MaxRegionFrac float64
}

// Weight computes a verifier's sampling weight: sqrt(stake) * reputation *
// recency_factor, where recency_factor dampens very new registrations less
// than 20% and never below 0.8 (§4.5).
func Weight(m VerifierManifest, reputation float64, now time.Time) float64 {
	ageDays := float64(now.UnixNano()-m.RegisteredAtNs) / float64(24*time.Hour)
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Max(0.8, 1-math.Min(ageDays/365, 1)*0.2)
	return math.Sqrt(math.Max(0, m.Stake)) * reputation * recency
}

// CommitteeSelector performs weighted, diversity-constrained sampling
// without replacement over a VerifierPool's active manifests.
type CommitteeSelector struct {
	pool *VerifierPool
	rep  *ReputationTracker
	rng  *rand.Rand
}

// NewCommitteeSelector wires a selector against a pool and reputation
// tracker. A deterministic rng may be supplied for reproducible tests.
func NewCommitteeSelector(pool *VerifierPool, rep *ReputationTracker, rng *rand.Rand) *CommitteeSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &CommitteeSelector{pool: pool, rep: rep, rng: rng}
}

// Select draws k verifiers from the pool's active members with stake >=
// minStake, respecting per-org/asn/region caps of ceil(k * maxFrac). Ties in
// weight are broken by verifier_id lexicographic order for determinism.
func (cs *CommitteeSelector) Select(k int, minStake float64, caps DiversityCaps) ([]VerifierManifest, error) {
	candidates := cs.pool.ActiveVerifiers(minStake, "")
	if len(candidates) < k {
		return nil, ErrInsufficientVerifiers
	}

	now := time.Now()
	type weighted struct {
		manifest VerifierManifest
		weight   float64
	}
	pool := make([]weighted, len(candidates))
	for i, m := range candidates {
		pool[i] = weighted{manifest: m, weight: Weight(m, cs.rep.Score(m.VerifierID), now)}
	}
	sort.Slice(pool, func(i, j int) bool {
		return pool[i].manifest.VerifierID.Hex() < pool[j].manifest.VerifierID.Hex()
	})

	orgCap := int(math.Ceil(float64(k) * caps.MaxOrgFrac))
	asnCap := int(math.Ceil(float64(k) * caps.MaxASNFrac))
	regionCap := int(math.Ceil(float64(k) * caps.MaxRegionFrac))
	if caps.MaxOrgFrac <= 0 {
		orgCap = k
	}
	if caps.MaxASNFrac <= 0 {
		asnCap = k
	}
	if caps.MaxRegionFrac <= 0 {
		regionCap = k
	}

	orgCount := map[string]int{}
	asnCount := map[string]int{}
	regionCount := map[string]int{}
	selected := make([]VerifierManifest, 0, k)
	remaining := append([]weighted(nil), pool...)

	for len(selected) < k && len(remaining) > 0 {
		total := 0.0
		for _, w := range remaining {
			total += w.weight
		}
		var pick int
		if total <= 0 {
			pick = cs.rng.Intn(len(remaining))
		} else {
			r := cs.rng.Float64() * total
			acc := 0.0
			pick = len(remaining) - 1
			for i, w := range remaining {
				acc += w.weight
				if r <= acc {
					pick = i
					break
				}
			}
		}
		cand := remaining[pick]
		remaining = append(remaining[:pick], remaining[pick+1:]...)

		m := cand.manifest
		if orgCount[m.OrgID]+1 > orgCap && orgCap > 0 {
			continue
		}
		if asnCount[m.ASN]+1 > asnCap && asnCap > 0 {
			continue
		}
		if regionCount[m.Region]+1 > regionCap && regionCap > 0 {
			continue
		}
		orgCount[m.OrgID]++
		asnCount[m.ASN]++
		regionCount[m.Region]++
		selected = append(selected, m)
	}

	if len(selected) < k {
		return nil, ErrInsufficientVerifiers
	}
	return selected, nil
}
