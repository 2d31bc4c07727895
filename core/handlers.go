package core

import (
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
)

func parseCID(s string) (cid.Cid, error) {
	return cid.Decode(s)
}

// registerBaseHandlers installs the default verb handlers named in §4.3.
func (d *Dispatcher) registerBaseHandlers() {
	d.handlers[KindNeed] = handleNeed
	d.handlers[KindPropose] = handlePropose
	d.handlers[KindProposeExtended] = handlePropose
	d.handlers[KindAttest] = handleAttest
	d.handlers[KindAttestPlan] = handleAttestPlan
	d.handlers[KindDecide] = handleDecide
	d.handlers[KindClaim] = handleClaim
	d.handlers[KindClaimExtended] = handleClaim
	d.handlers[KindHeartbeat] = handleHeartbeat
	d.handlers[KindCommit] = handleCommit
	d.handlers[KindFinalize] = handleFinalize
	d.handlers[KindYield] = handleYield
	d.handlers[KindRelease] = handleRelease
	d.handlers[KindUpdatePlan] = handleUpdatePlan
}

func senderAddress(env Envelope) (Address, error) {
	addr, ok := AddressFromBytes(env.SenderPK)
	if !ok {
		return Address{}, Wrap(ErrKindValidation, fmt.Errorf("handler: malformed sender_pk"))
	}
	return addr, nil
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func annotateOp(env Envelope, actor Address, taskID, annotationKind string, fields map[string]any) PlanOp {
	payload := map[string]any{"kind": annotationKind}
	for k, v := range fields {
		payload[k] = v
	}
	return PlanOp{
		OpID:        env.ID,
		ThreadID:    env.ThreadID,
		Lamport:     env.Lamport,
		Epoch:       env.Lamport, // epoch tracking is refined by the checkpoint scheduler; ops default to their own lamport until sealed into an epoch
		ActorID:     actor,
		OpType:      OpAnnotate,
		TaskID:      taskID,
		Payload:     payload,
		TimestampNs: env.TsNs,
	}
}

func stateOp(env Envelope, actor Address, taskID string, state TaskState, extra map[string]any) PlanOp {
	payload := map[string]any{"state": string(state)}
	for k, v := range extra {
		payload[k] = v
	}
	return PlanOp{
		OpID:        env.ID + ":state",
		ThreadID:    env.ThreadID,
		Lamport:     env.Lamport,
		Epoch:       env.Lamport,
		ActorID:     actor,
		OpType:      OpState,
		TaskID:      taskID,
		Payload:     payload,
		TimestampNs: env.TsNs,
	}
}

// handleNeed creates a new task via an ADD_TASK op. The task_id is the
// envelope's own ID, so replaying the same NEED always resolves to the
// same task (idempotent per §4.3(c)).
func handleNeed(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	op := PlanOp{
		OpID:        env.ID,
		ThreadID:    env.ThreadID,
		Lamport:     env.Lamport,
		Epoch:       env.Lamport,
		ActorID:     actor,
		OpType:      OpAddTask,
		TaskID:      env.ID,
		Payload:     env.Payload,
		TimestampNs: env.TsNs,
	}
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

// handlePropose records a `proposal` annotation against the NEED's task_id.
// The extended form additionally validates a unique ballot per proposer and
// applies an embedded patch of PlanOps, dropping individually-invalid ones
// and rejecting the whole proposal only if every op in the patch is
// invalid.
func handlePropose(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	needID := stringField(env.Payload, "need_id")
	proposalID := stringField(env.Payload, "proposal_id")

	if env.Kind == KindProposeExtended {
		if ballot, ok := env.Payload["ballot"]; ok {
			if duplicateBallot(e.Plans, env.ThreadID, actor, ballot) {
				return Wrap(ErrKindConflict, fmt.Errorf("propose: duplicate ballot from proposer"))
			}
		}
		if rawPatch, ok := env.Payload["patch"].([]any); ok {
			applied := applyPatch(e.Plans, env.ThreadID, rawPatch)
			if applied == 0 && len(rawPatch) > 0 {
				return Wrap(ErrKindValidation, fmt.Errorf("propose: every op in patch was invalid"))
			}
		}
	}

	op := annotateOp(env, actor, needID, "proposal", map[string]any{
		"proposal_id": proposalID,
		"cost":        env.Payload["cost"],
		"eta":         env.Payload["eta"],
	})
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

func duplicateBallot(ps *PlanStore, threadID string, proposer Address, ballot any) bool {
	for _, op := range ps.OpsForThread(threadID) {
		if op.OpType != OpAnnotate || op.ActorID != proposer {
			continue
		}
		if op.Payload["kind"] != "proposal" {
			continue
		}
		if op.Payload["ballot"] == ballot {
			return true
		}
	}
	return false
}

// applyPatch appends each structurally-valid op in rawPatch and returns the
// count applied, per UPDATE_PLAN's validation rules (shared with extended
// PROPOSE's embedded patch).
func applyPatch(ps *PlanStore, threadID string, rawPatch []any) int {
	applied := 0
	for _, item := range rawPatch {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		op, ok := planOpFromFields(threadID, fields)
		if !ok {
			continue
		}
		if err := ps.Append(op); err == nil {
			applied++
		}
	}
	return applied
}

// planOpFromFields validates and builds a PlanOp from a loosely-typed
// patch entry, rejecting ops missing type/task_id, carrying an unknown
// op_type, a STATE op missing `state`, or a LINK op missing `parent`/
// `child` (§4.3 UPDATE_PLAN).
func planOpFromFields(threadID string, fields map[string]any) (PlanOp, bool) {
	opType, _ := fields["op_type"].(string)
	taskID, _ := fields["task_id"].(string)
	if opType == "" || taskID == "" {
		return PlanOp{}, false
	}
	switch OpType(opType) {
	case OpAddTask, OpAnnotate:
	case OpState:
		payload, _ := fields["payload"].(map[string]any)
		if payload == nil || payload["state"] == nil {
			return PlanOp{}, false
		}
	case OpLink:
		payload, _ := fields["payload"].(map[string]any)
		if payload == nil || payload["parent"] == nil || payload["child"] == nil {
			return PlanOp{}, false
		}
	default:
		return PlanOp{}, false
	}
	opID, _ := fields["op_id"].(string)
	if opID == "" {
		return PlanOp{}, false
	}
	payload, _ := fields["payload"].(map[string]any)
	lamport, _ := fields["lamport"].(float64)
	return PlanOp{
		OpID:        opID,
		ThreadID:    threadID,
		Lamport:     int64(lamport),
		TaskID:      taskID,
		OpType:      OpType(opType),
		Payload:     payload,
		TimestampNs: nowNs(),
	}, true
}

// handleAttest records an `attestation` annotation and runs the commit-gate
// policy check comparing claimed vs. actual resource usage (§4.7).
func handleAttest(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	taskID := stringField(env.Payload, "need_id")
	verdict := stringField(env.Payload, "verdict")

	if e.Gate != nil {
		claim := claimFromPayload(env.Payload)
		actual := telemetryFromPayload(env.Payload)
		decision := e.Gate.CommitGate(env, claim, actual)
		if !decision.Allowed {
			op := annotateOp(env, actor, taskID, "attestation", map[string]any{
				"verdict":  "reject",
				"attester": actor.Hex(),
				"reasons":  decision.Reasons,
			})
			_ = e.Plans.Append(op)
			return Wrap(ErrKindPolicyDenied, fmt.Errorf("attest: commit-gate denied: %v", decision.Reasons))
		}
	}

	op := annotateOp(env, actor, taskID, "attestation", map[string]any{
		"verdict":  verdict,
		"attester": actor.Hex(),
	})
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

func claimFromPayload(payload map[string]any) ResourceClaim {
	res, _ := payload["resources"].(map[string]any)
	f := func(k string) float64 { v, _ := res[k].(float64); return v }
	return ResourceClaim{CPUms: f("cpu_ms"), MemoryMB: f("memory_mb"), Gas: f("gas")}
}

func telemetryFromPayload(payload map[string]any) Telemetry {
	tel, _ := payload["telemetry"].(map[string]any)
	f := func(k string) float64 { v, _ := tel[k].(float64); return v }
	return Telemetry{CPUms: f("cpu_ms"), MemoryMB: f("memory_mb"), Gas: f("gas")}
}

// handleAttestPlan validates the sender is an active, sufficiently-staked
// verifier, records an `attest_plan` annotation only on approval, and
// triggers the DECIDE adapter the instant the Kth distinct approval
// arrives (§4.3, invariant 9).
func handleAttestPlan(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	manifest, ok := e.Verifiers.Get(actor)
	if !ok || !manifest.Active || manifest.Stake < e.MinVerifierStake {
		return Wrap(ErrKindPolicyDenied, fmt.Errorf("attest_plan: sender is not an eligible active verifier"))
	}

	needID := stringField(env.Payload, "need_id")
	proposalID := stringField(env.Payload, "proposal_id")
	verdict := stringField(env.Payload, "verdict")
	if verdict != "approve" {
		return nil
	}

	op := annotateOp(env, actor, needID, "attest_plan", map[string]any{
		"proposal_id": proposalID,
		"verifier_id": actor.Hex(),
	})
	if err := e.Plans.Append(op); err != nil {
		return Wrap(ErrKindInfrastructure, err)
	}

	kPlan := e.KPlan()
	_, firstTime := e.Quorum.Record(needID, proposalID, actor, kPlan)
	if !firstTime {
		return nil
	}

	rec := DecideRecord{
		NeedID:      needID,
		ProposalID:  proposalID,
		Epoch:       env.Lamport,
		Lamport:     env.Lamport,
		KPlan:       kPlan,
		DeciderID:   e.SelfID,
		TimestampNs: nowNs(),
	}
	decided, won, err := e.Decide.TryDecide(rec)
	if err != nil {
		return Wrap(ErrKindResource, err)
	}
	if !won {
		return nil
	}
	return e.emit(KindDecide, env.ThreadID, map[string]any{
		"need_id":     decided.NeedID,
		"proposal_id": decided.ProposalID,
		"epoch":       decided.Epoch,
		"lamport":     decided.Lamport,
		"k_plan":      decided.KPlan,
		"decider_id":  decided.DeciderID.Hex(),
	})
}

// handleDecide is the propagation path for a DECIDE already won by whichever
// node's handleAttestPlan first reached quorum: the adapter record is
// shared across the coordinator set (§4.6), so by the time this envelope
// arrives TryDecide would always report a loser here. It instead confirms
// the envelope against the adapter's existing record for need_id and, on
// match, applies STATE->DECIDED; op-log Append already dedups by op_id, so
// every node applying this is idempotent regardless of delivery order.
func handleDecide(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	needID := stringField(env.Payload, "need_id")
	proposalID := stringField(env.Payload, "proposal_id")

	rec, ok, err := e.Decide.Get(needID)
	if err != nil {
		return Wrap(ErrKindResource, err)
	}
	if !ok || rec.ProposalID != proposalID {
		return nil
	}

	if err := e.Plans.Append(stateOp(env, actor, needID, StateDecided, map[string]any{"proposal_id": proposalID})); err != nil {
		return Wrap(ErrKindInfrastructure, err)
	}
	op := annotateOp(env, actor, needID, "decide", map[string]any{"proposal_id": proposalID})
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

// handleClaim registers a lease and moves the task to CLAIMED, validating
// lease bounds via LeaseManager.Create (ttl>=60s, 0<hb<ttl).
func handleClaim(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	taskID := stringField(env.Payload, "task_id")
	ttlSecs, _ := env.Payload["lease_ttl"].(float64)
	hbSecs, _ := env.Payload["heartbeat_interval"].(float64)

	leaseID, err := e.Leases.Create(taskID, actor, time.Duration(ttlSecs)*time.Second, time.Duration(hbSecs)*time.Second)
	if err != nil {
		return Wrap(ErrKindValidation, err)
	}
	e.Heartbeats.Track(leaseID, nowNs(), time.Duration(hbSecs)*time.Second)

	op := stateOp(env, actor, taskID, StateClaimed, map[string]any{"lease_id": leaseID, "worker_id": actor.Hex()})
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

// handleHeartbeat accepts a heartbeat only when worker_id matches the
// lease's owner (invariant 4), advances last_heartbeat_ns, and records an
// optional progress annotation.
func handleHeartbeat(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	leaseID := stringField(env.Payload, "lease_id")
	lease, ok := e.Leases.Get(leaseID)
	if !ok {
		return Wrap(ErrKindValidation, fmt.Errorf("heartbeat: lease %s not found", leaseID))
	}
	if lease.WorkerID != actor {
		return Wrap(ErrKindValidation, fmt.Errorf("heartbeat: worker_id mismatch for lease %s", leaseID))
	}

	e.Leases.Heartbeat(leaseID)
	e.Heartbeats.Observe(leaseID, env.TsNs)

	fields := map[string]any{"lease_id": leaseID}
	if progress, ok := env.Payload["progress"]; ok {
		fields["progress"] = progress
	}
	op := annotateOp(env, actor, lease.TaskID, "heartbeat", fields)
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

// handleCommit validates the artifact's content ID exists in CAS, then
// annotates the commit, tying the task to its produced content-address.
func handleCommit(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	taskID := stringField(env.Payload, "task_id")
	artifactHash := stringField(env.Payload, "artifact_hash")

	if e.Store != nil {
		c, parseErr := parseCID(artifactHash)
		if parseErr != nil || !e.Store.Has(c) {
			return Wrap(ErrKindResource, fmt.Errorf("commit: artifact %s not present in CAS", artifactHash))
		}
	}

	op := annotateOp(env, actor, taskID, "commit", map[string]any{"artifact_hash": artifactHash})
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

// handleFinalize moves a task to FINAL and records a finalization
// annotation.
func handleFinalize(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	taskID := stringField(env.Payload, "task_id")
	if err := e.Plans.Append(stateOp(env, actor, taskID, StateFinal, nil)); err != nil {
		return Wrap(ErrKindInfrastructure, err)
	}
	op := annotateOp(env, actor, taskID, "finalize", nil)
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

// handleYield voluntarily reverts a task to DRAFT, annotating the yielder
// and reason.
func handleYield(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	taskID := stringField(env.Payload, "task_id")
	reason := stringField(env.Payload, "reason")
	if err := e.Plans.Append(stateOp(env, actor, taskID, StateDraft, nil)); err != nil {
		return Wrap(ErrKindInfrastructure, err)
	}
	op := annotateOp(env, actor, taskID, "yield", map[string]any{"yielder": actor.Hex(), "reason": reason})
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

// handleRelease is the system-initiated counterpart to YIELD, emitted by
// the lease monitor on timeout or heartbeat miss.
func handleRelease(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	taskID := stringField(env.Payload, "task_id")
	reason := stringField(env.Payload, "reason")
	if err := e.Plans.Append(stateOp(env, actor, taskID, StateDraft, nil)); err != nil {
		return Wrap(ErrKindInfrastructure, err)
	}
	op := annotateOp(env, actor, taskID, "release", map[string]any{"reason": reason})
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}

// handleUpdatePlan applies a batch of PlanOps to the current thread,
// skipping individually-invalid ones, and records a Merkle commitment over
// the successfully-applied ops as the new plan version.
func handleUpdatePlan(e *Engine, env Envelope) error {
	actor, err := senderAddress(env)
	if err != nil {
		return err
	}
	rawOps, _ := env.Payload["ops"].([]any)
	var appliedHashes [][]byte
	for _, item := range rawOps {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		op, ok := planOpFromFields(env.ThreadID, fields)
		if !ok {
			continue
		}
		if err := e.Plans.Append(op); err != nil {
			continue
		}
		b, hashErr := canonicalJSON(op.Payload)
		if hashErr == nil {
			appliedHashes = append(appliedHashes, b)
		}
	}
	if len(appliedHashes) == 0 {
		return nil
	}
	root, err := MerkleRoot(appliedHashes)
	if err != nil {
		return Wrap(ErrKindIntegrity, err)
	}
	op := annotateOp(env, actor, stringField(env.Payload, "task_id"), "plan_version", map[string]any{
		"merkle_root": fmt.Sprintf("%x", root),
		"op_count":    len(appliedHashes),
	})
	return Wrap(ErrKindInfrastructure, e.Plans.Append(op))
}
