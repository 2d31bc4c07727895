package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPruningPreservesRetrievability(t *testing.T) {
	storage, err := NewTieredStorage(t.TempDir())
	require.NoError(t, err)
	pm := NewPruningManager(DefaultPruningPolicy(), storage)

	var ops []PlanOp
	for epoch := int64(0); epoch < 15; epoch++ {
		op := PlanOp{OpID: opIDForEpoch(epoch), ThreadID: "t1", Lamport: epoch + 1, Epoch: epoch, OpType: OpAnnotate, TaskID: "task-1"}
		storage.AddToHot(op)
		ops = append(ops, op)
	}

	moved, kept, err := pm.PruneBeforeEpoch(ops, 14)
	require.NoError(t, err)
	require.Equal(t, 4, moved) // epochs 0..3 are > 10 epochs_ago at current=14
	require.Equal(t, 11, kept)

	for epoch := int64(0); epoch < 4; epoch++ {
		op, ok := storage.Get(opIDForEpoch(epoch))
		require.True(t, ok, "epoch %d should still be retrievable after archiving", epoch)
		require.Equal(t, epoch, op.Epoch)
	}
	require.Equal(t, 4, storage.ColdSize())
	require.Equal(t, 11, storage.HotSize())
}

func TestShouldPruneFormula(t *testing.T) {
	p := DefaultPruningPolicy()
	require.False(t, p.ShouldPrune(5, 14))
	require.True(t, p.ShouldPrune(3, 14))
}

func opIDForEpoch(epoch int64) string {
	return "op-epoch-" + string(rune('a'+epoch))
}
