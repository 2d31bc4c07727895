package core

import (
	"math"
	"sync"
)

// BootstrapDefaults names the default tunables from §4.5.
const (
	DefaultBootstrapThreshold = 10
	DefaultKTarget            = 5
	DefaultStableHours        = 24
	dynamicKAlpha             = 0.3
)

// BootstrapManager computes k_plan and tracks whether the swarm is in
// bootstrap mode (few active verifiers, relaxed quorum, boosted rewards).
type BootstrapManager struct {
	mu        sync.Mutex
	threshold int
	kTarget   int
}

// NewBootstrapManager returns a manager with the given threshold/k_target;
// non-positive values fall back to the documented defaults.
func NewBootstrapManager(threshold, kTarget int) *BootstrapManager {
	if threshold <= 0 {
		threshold = DefaultBootstrapThreshold
	}
	if kTarget <= 0 {
		kTarget = DefaultKTarget
	}
	return &BootstrapManager{threshold: threshold, kTarget: kTarget}
}

// IsBootstrap reports whether active is below the bootstrap threshold.
func (bm *BootstrapManager) IsBootstrap(active int) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return active < bm.threshold
}

// KPlan computes the dynamic quorum size: 1 during bootstrap, otherwise
// min(k_target, max(2, floor(active * 0.3))) (invariant 11).
func (bm *BootstrapManager) KPlan(active int) int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if active < bm.threshold {
		return 1
	}
	scaled := int(math.Floor(float64(active) * dynamicKAlpha))
	k := scaled
	if k < 2 {
		k = 2
	}
	if k > bm.kTarget {
		k = bm.kTarget
	}
	return k
}

// ChallengeRewardMultiplier doubles the challenge reward during bootstrap,
// gating ReputationTracker.BoostSuccessfulChallenge's multiplier argument.
func (bm *BootstrapManager) ChallengeRewardMultiplier(active int) float64 {
	if bm.IsBootstrap(active) {
		return 2.0
	}
	return 1.0
}

// BootstrapMonitor tracks consecutive hours the swarm has stayed at or
// above the bootstrap threshold, and decides when to exit bootstrap mode.
type BootstrapMonitor struct {
	mgr         *BootstrapManager
	stableHours int

	mu         sync.Mutex
	hoursAbove int
	exited     bool
}

// NewBootstrapMonitor wires a monitor against mgr; stableHours <= 0 falls
// back to DefaultStableHours.
func NewBootstrapMonitor(mgr *BootstrapManager, stableHours int) *BootstrapMonitor {
	if stableHours <= 0 {
		stableHours = DefaultStableHours
	}
	return &BootstrapMonitor{mgr: mgr, stableHours: stableHours}
}

// Tick is called once per hour (or per simulated hour in tests) with the
// current active verifier count, advancing or resetting hoursAbove.
func (bm *BootstrapMonitor) Tick(active int) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if active >= bm.mgr.threshold {
		bm.hoursAbove++
	} else {
		bm.hoursAbove = 0
	}
}

// ShouldExitBootstrap reports whether active is at/above threshold and the
// swarm has stayed there for stableHours consecutive ticks.
func (bm *BootstrapMonitor) ShouldExitBootstrap(active int) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return active >= bm.mgr.threshold && bm.hoursAbove >= bm.stableHours
}

// HoursAbove returns the current consecutive-hours-above-threshold count,
// primarily for tests and metrics.
func (bm *BootstrapMonitor) HoursAbove() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.hoursAbove
}
