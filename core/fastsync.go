package core

import (
	"crypto/ed25519"
	"errors"
)

// Fast-sync failure classes (§7's taxonomy, §4.8's clean-partial-state
// guarantee).
var (
	ErrNoCheckpointAvailable = errors.New("fastsync: no checkpoint available")
	ErrCheckpointQuorumFailed = errors.New("fastsync: checkpoint signature quorum not met")
	ErrContinuityViolation    = errors.New("fastsync: op continuity check failed")
)

// OpSource supplies the ops a fast-syncing node needs to catch up past a
// checkpoint, typically backed by a peer's op-log over gossip.
type OpSource interface {
	OpsSince(threadID string, afterLamport int64) ([]PlanOp, error)
}

// FastSyncResult reports what a successful fast-sync applied.
type FastSyncResult struct {
	Epoch      int64
	AppliedOps int
}

// FastSync brings a fresh PlanStore up to date from the latest signed
// checkpoint plus any ops committed since. Any failure leaves store
// untouched: nothing is applied until every check has passed.
func FastSync(cm *CheckpointManager, pubKeys map[Address]ed25519.PublicKey, quorum int, source OpSource, store *PlanStore, threadIDs []string) (FastSyncResult, error) {
	epoch, ok, err := cm.LatestEpoch()
	if err != nil {
		return FastSyncResult{}, err
	}
	if !ok {
		return FastSyncResult{}, ErrNoCheckpointAvailable
	}

	sc, err := cm.Load(epoch)
	if err != nil {
		return FastSyncResult{}, err
	}
	if !VerifyQuorum(sc.Checkpoint, sc.Signatures, pubKeys, quorum) {
		return FastSyncResult{}, ErrCheckpointQuorumFailed
	}

	// Collect every candidate op across threads before applying any of
	// them, so a continuity failure on one thread aborts the whole sync.
	type pending struct {
		threadID string
		ops      []PlanOp
	}
	var batches []pending
	total := 0
	for _, threadID := range threadIDs {
		ops, err := source.OpsSince(threadID, sc.Checkpoint.LastLamport)
		if err != nil {
			return FastSyncResult{}, err
		}
		if err := verifyContinuity(ops, sc.Checkpoint); err != nil {
			return FastSyncResult{}, err
		}
		batches = append(batches, pending{threadID: threadID, ops: ops})
		total += len(ops)
	}

	for _, b := range batches {
		for _, op := range b.ops {
			if err := store.Append(op); err != nil {
				return FastSyncResult{}, err
			}
		}
	}

	return FastSyncResult{Epoch: epoch, AppliedOps: total}, nil
}

// verifyContinuity checks that every op in ops belongs to an epoch after
// the checkpoint's and that Lamport values are monotonic non-decreasing
// from the checkpoint's last Lamport value. Gaps between consecutive Lamport
// values are not checked.
func verifyContinuity(ops []PlanOp, cp Checkpoint) error {
	lastLamport := cp.LastLamport
	for _, op := range ops {
		if op.Epoch <= cp.Epoch {
			return ErrContinuityViolation
		}
		if op.Lamport < lastLamport {
			return ErrContinuityViolation
		}
		lastLamport = op.Lamport
	}
	return nil
}
