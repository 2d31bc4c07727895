package core

// PruningPolicy governs how many recent epochs stay in hot storage before
// an op is eligible to migrate to cold storage.
type PruningPolicy struct {
	KeepEpochs     int64
	MinOpsPerEpoch int
}

// DefaultPruningPolicy returns the default policy: keep 10 epochs hot.
func DefaultPruningPolicy() PruningPolicy {
	return PruningPolicy{KeepEpochs: 10, MinOpsPerEpoch: 100}
}

// ShouldPrune reports whether an op from opEpoch is old enough to prune,
// given the current epoch.
func (p PruningPolicy) ShouldPrune(opEpoch, currentEpoch int64) bool {
	return (currentEpoch - opEpoch) > p.KeepEpochs
}

// Threshold returns the epoch below which ops are eligible for pruning.
func (p PruningPolicy) Threshold(currentEpoch int64) int64 {
	return currentEpoch - p.KeepEpochs
}

// PruningManager coordinates a PruningPolicy against a TieredStorage,
// archiving ops whose epoch has fallen out of the hot window.
type PruningManager struct {
	policy  PruningPolicy
	storage *TieredStorage
}

// NewPruningManager wires a manager from policy and storage.
func NewPruningManager(policy PruningPolicy, storage *TieredStorage) *PruningManager {
	return &PruningManager{policy: policy, storage: storage}
}

// PruneBeforeEpoch partitions ops by the policy's threshold for
// currentEpoch, moves the stale ones to cold storage, and reports
// (moved, kept).
func (pm *PruningManager) PruneBeforeEpoch(ops []PlanOp, currentEpoch int64) (moved, kept int, err error) {
	threshold := pm.policy.Threshold(currentEpoch)
	var toCold []PlanOp
	for _, op := range ops {
		if op.Epoch < threshold {
			toCold = append(toCold, op)
		} else {
			kept++
		}
	}
	moved, err = pm.storage.MoveToCold(toCold)
	return moved, kept, err
}

// PruningStats summarizes the current policy and storage occupancy.
type PruningStats struct {
	KeepEpochs int64
	HotSize    int
	ColdSize   int
}

// Stats reports the manager's current policy and storage state.
func (pm *PruningManager) Stats() PruningStats {
	return PruningStats{
		KeepEpochs: pm.policy.KeepEpochs,
		HotSize:    pm.storage.HotSize(),
		ColdSize:   pm.storage.ColdSize(),
	}
}
