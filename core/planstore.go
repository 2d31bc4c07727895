package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
)

// PlanOp is one append-only log entry recording a state change or
// annotation against a thread.
type PlanOp struct {
	OpID        string
	ThreadID    string
	Lamport     int64
	Epoch       int64
	ActorID     Address
	OpType      OpType
	TaskID      string
	Payload     map[string]any
	TimestampNs int64
}

// less implements the op-log total order: primary key is Lamport ascending,
// tiebreak is OpID ascending (lexicographic), so two actors with identical
// Lamport values still sort deterministically (invariant 5).
func (o PlanOp) less(other PlanOp) bool {
	if o.Lamport != other.Lamport {
		return o.Lamport < other.Lamport
	}
	return o.OpID < other.OpID
}

// PlanStore is the authoritative, append-only operation log for every
// thread. Readers receive copies; the store exclusively owns mutation.
type PlanStore struct {
	mu      sync.RWMutex
	byID    map[string]PlanOp
	threads map[string][]PlanOp // kept sorted by op total order
}

// NewPlanStore returns an empty store.
func NewPlanStore() *PlanStore {
	return &PlanStore{
		byID:    make(map[string]PlanOp),
		threads: make(map[string][]PlanOp),
	}
}

// Append adds op to the log. A duplicate OpID is idempotent: it is silently
// dropped, not treated as an error (§4.2).
func (ps *PlanStore) Append(op PlanOp) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, exists := ps.byID[op.OpID]; exists {
		return nil
	}
	ps.byID[op.OpID] = op
	ops := ps.threads[op.ThreadID]
	i := sort.Search(len(ops), func(i int) bool { return !ops[i].less(op) })
	ops = append(ops, PlanOp{})
	copy(ops[i+1:], ops[i:])
	ops[i] = op
	ps.threads[op.ThreadID] = ops
	return nil
}

// OpsForThread returns a copy of all ops for threadID in Lamport-then-OpID
// order.
func (ps *PlanStore) OpsForThread(threadID string) []PlanOp {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	src := ps.threads[threadID]
	out := make([]PlanOp, len(src))
	copy(out, src)
	return out
}

// Get returns the op with the given ID, if present.
func (ps *PlanStore) Get(opID string) (PlanOp, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	op, ok := ps.byID[opID]
	return op, ok
}

// TaskView is the derived view of a task: its current state plus the
// accumulated annotations recorded against it.
type TaskView struct {
	TaskID      string
	State       TaskState
	StatePayload map[string]any
	Annotations []map[string]any
}

// Task derives the current state of taskID by scanning STATE ops for its
// thread in total order and taking the payload of the highest-ordered one;
// ANNOTATE ops accumulate in order. ThreadID is required because the log is
// indexed per-thread, not per-task.
func (ps *PlanStore) Task(threadID, taskID string) TaskView {
	ps.mu.RLock()
	ops := ps.threads[threadID]
	ps.mu.RUnlock()

	view := TaskView{TaskID: taskID, State: StateDraft}
	for _, op := range ops {
		if op.TaskID != taskID {
			continue
		}
		switch op.OpType {
		case OpState:
			if s, ok := op.Payload["state"].(string); ok {
				view.State = TaskState(s)
				view.StatePayload = op.Payload
			}
		case OpAnnotate:
			view.Annotations = append(view.Annotations, op.Payload)
		}
	}
	return view
}

// RangeHash returns a stable hash over the ops of threadID whose Lamport
// value falls in [fromLamport, toLamport], computed over the canonical
// JSON of each op in total order. Two participants holding the same ops
// produce the same hash regardless of arrival order (used by S1/S5/S6).
func (ps *PlanStore) RangeHash(threadID string, fromLamport, toLamport int64) (string, error) {
	ps.mu.RLock()
	ops := ps.threads[threadID]
	ps.mu.RUnlock()

	h := sha256.New()
	for _, op := range ops {
		if op.Lamport < fromLamport || op.Lamport > toLamport {
			continue
		}
		b, err := canonicalJSON(map[string]any{
			"op_id":     op.OpID,
			"thread_id": op.ThreadID,
			"lamport":   op.Lamport,
			"epoch":     op.Epoch,
			"actor_id":  op.ActorID.Hex(),
			"op_type":   string(op.OpType),
			"task_id":   op.TaskID,
			"payload":   op.Payload,
		})
		if err != nil {
			return "", err
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// OpsInEpochRange returns the ops of threadID whose Lamport value falls in
// [fromLamport, toLamport].
func (ps *PlanStore) OpsInEpochRange(threadID string, fromLamport, toLamport int64) []PlanOp {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	var out []PlanOp
	for _, op := range ps.threads[threadID] {
		if op.Lamport >= fromLamport && op.Lamport <= toLamport {
			out = append(out, op)
		}
	}
	return out
}

// Threads returns the set of thread IDs with at least one op, for
// checkpoint/state-summary construction across the whole store.
func (ps *PlanStore) Threads() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]string, 0, len(ps.threads))
	for t := range ps.threads {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
