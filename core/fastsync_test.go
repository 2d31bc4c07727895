package core

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeOpSource struct {
	ops map[string][]PlanOp
}

func (f fakeOpSource) OpsSince(threadID string, afterLamport int64) ([]PlanOp, error) {
	var out []PlanOp
	for _, op := range f.ops[threadID] {
		if op.Lamport > afterLamport {
			out = append(out, op)
		}
	}
	return out, nil
}

func sealedCheckpointWithQuorum(t *testing.T, cm *CheckpointManager, epoch, lastLamport int64, n, quorum int) (map[Address]ed25519.PublicKey, int) {
	t.Helper()
	cp, err := cm.SealAt(epoch, [][]byte{[]byte("op")}, map[string]any{"epoch": float64(epoch)}, false, lastLamport)
	require.NoError(t, err)

	pubKeys := map[Address]ed25519.PublicKey{}
	var sigs []CheckpointSignature
	for i := 0; i < n; i++ {
		pk, sk, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		id := testAddr(byte(i + 1))
		pubKeys[id] = pk
		sig, err := SignCheckpoint(cp, id, sk)
		require.NoError(t, err)
		sigs = append(sigs, sig)
	}
	require.NoError(t, cm.Store(SignedCheckpoint{Checkpoint: cp, Signatures: sigs}))
	return pubKeys, quorum
}

func TestFastSyncAppliesOpsPastCheckpoint(t *testing.T) {
	cm := NewCheckpointManager(t.TempDir())
	pubKeys, quorum := sealedCheckpointWithQuorum(t, cm, 4, 10, 3, 2)

	source := fakeOpSource{ops: map[string][]PlanOp{
		"t1": {
			{OpID: "op-11", ThreadID: "t1", Lamport: 11, Epoch: 5, OpType: OpAnnotate, TaskID: "task-1"},
			{OpID: "op-12", ThreadID: "t1", Lamport: 12, Epoch: 5, OpType: OpAnnotate, TaskID: "task-1"},
		},
	}}
	store := NewPlanStore()

	result, err := FastSync(cm, pubKeys, quorum, source, store, []string{"t1"})
	require.NoError(t, err)
	require.Equal(t, 2, result.AppliedOps)
	require.Len(t, store.OpsForThread("t1"), 2)
}

func TestFastSyncRejectsContinuityViolation(t *testing.T) {
	cm := NewCheckpointManager(t.TempDir())
	pubKeys, quorum := sealedCheckpointWithQuorum(t, cm, 4, 10, 3, 2)

	source := fakeOpSource{ops: map[string][]PlanOp{
		"t1": {
			{OpID: "op-bad", ThreadID: "t1", Lamport: 11, Epoch: 4, OpType: OpAnnotate, TaskID: "task-1"},
		},
	}}
	store := NewPlanStore()

	_, err := FastSync(cm, pubKeys, quorum, source, store, []string{"t1"})
	require.ErrorIs(t, err, ErrContinuityViolation)
	require.Empty(t, store.OpsForThread("t1"))
}

func TestFastSyncRejectsInsufficientQuorum(t *testing.T) {
	cm := NewCheckpointManager(t.TempDir())
	pubKeys, _ := sealedCheckpointWithQuorum(t, cm, 4, 10, 3, 2)

	store := NewPlanStore()
	_, err := FastSync(cm, pubKeys, 5, fakeOpSource{}, store, []string{"t1"})
	require.ErrorIs(t, err, ErrCheckpointQuorumFailed)
}
