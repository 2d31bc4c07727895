package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPlanStoreAppendIdempotent(t *testing.T) {
	ps := NewPlanStore()
	op := PlanOp{OpID: "op-1", ThreadID: "t1", Lamport: 1, OpType: OpAddTask, TaskID: "task-1"}
	require.NoError(t, ps.Append(op))
	require.NoError(t, ps.Append(op))
	require.Len(t, ps.OpsForThread("t1"), 1)
}

func TestPlanStoreLamportOrdering(t *testing.T) {
	ps := NewPlanStore()
	for _, lamport := range []int64{3, 1, 2} {
		require.NoError(t, ps.Append(PlanOp{
			OpID:     uuid.NewString(),
			ThreadID: "t1",
			Lamport:  lamport,
			OpType:   OpAnnotate,
			TaskID:   "task-1",
		}))
	}
	ops := ps.OpsForThread("t1")
	require.Len(t, ops, 3)
	for i := 1; i < len(ops); i++ {
		require.LessOrEqual(t, ops[i-1].Lamport, ops[i].Lamport)
	}
}

func TestTaskDerivedState(t *testing.T) {
	ps := NewPlanStore()
	require.NoError(t, ps.Append(PlanOp{OpID: "1", ThreadID: "t1", Lamport: 1, OpType: OpAddTask, TaskID: "task-1"}))
	require.NoError(t, ps.Append(PlanOp{OpID: "2", ThreadID: "t1", Lamport: 2, OpType: OpState, TaskID: "task-1", Payload: map[string]any{"state": "DECIDED"}}))
	require.NoError(t, ps.Append(PlanOp{OpID: "3", ThreadID: "t1", Lamport: 3, OpType: OpAnnotate, TaskID: "task-1", Payload: map[string]any{"kind": "proposal"}}))

	view := ps.Task("t1", "task-1")
	require.Equal(t, TaskState("DECIDED"), view.State)
	require.Len(t, view.Annotations, 1)
}

func TestRangeHashIsOrderIndependent(t *testing.T) {
	opA := PlanOp{OpID: "a", ThreadID: "t1", Lamport: 1, OpType: OpAnnotate, TaskID: "task-1"}
	opB := PlanOp{OpID: "b", ThreadID: "t1", Lamport: 2, OpType: OpAnnotate, TaskID: "task-1"}

	ps1 := NewPlanStore()
	require.NoError(t, ps1.Append(opA))
	require.NoError(t, ps1.Append(opB))

	ps2 := NewPlanStore()
	require.NoError(t, ps2.Append(opB))
	require.NoError(t, ps2.Append(opA))

	h1, err := ps1.RangeHash("t1", 0, 100)
	require.NoError(t, err)
	h2, err := ps2.RangeHash("t1", 0, 100)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
