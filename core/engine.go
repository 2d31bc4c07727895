package core

import "crypto/ed25519"

// Publisher emits an envelope onto the gossip substrate under its verb's
// topic, the only way a handler reaches other participants (§4.3's "may...
// emit new envelopes").
type Publisher interface {
	Publish(env Envelope) error
}

// Engine wires every coordination component a verb handler needs: the
// op-log, lease/heartbeat state, committee/quorum/reputation tracking,
// the atomic DECIDE adapter, the policy gate, content-addressable storage,
// and the local Lamport clock and identity used to stamp emitted envelopes.
type Engine struct {
	Plans      *PlanStore
	Leases     *LeaseManager
	Heartbeats *HeartbeatProtocol
	Quorum     *QuorumTracker
	Decide     DecideCoordinator
	Verifiers  *VerifierPool
	Reputation *ReputationTracker
	Bootstrap  *BootstrapManager
	Gate       *GateEnforcer
	Store      CAS
	Clock      *LamportClock
	SelfID     Address
	SelfPK     ed25519.PublicKey
	SelfSK     ed25519.PrivateKey
	Publisher  Publisher

	// MinVerifierStake gates ATTEST_PLAN acceptance (§4.3: "validates the
	// sender is an active pool member with sufficient stake").
	MinVerifierStake float64
}

// EngineConfig supplies the construction-time parameters NewEngine cannot
// derive from its sub-components.
type EngineConfig struct {
	SelfID             Address
	MinVerifierStake   float64
	BootstrapThreshold int
	KTarget            int

	// Rules, PolicyVersion, GasLimit, and PreflightCacheSize configure the
	// policy gate (§4.7). Rules defaults to BaseRuleEvaluator, GasLimit to
	// the gate's own DefaultGasLimit, and PreflightCacheSize to the gate's
	// own default when left zero.
	Rules              RuleEvaluator
	PolicyVersion      string
	GasLimit           int
	PreflightCacheSize int
}

// NewEngine assembles a fresh Engine with in-memory components suitable
// for a single process (tests, or a node wired with alternative
// persistence backends swapped in after construction). It returns an error
// only if the policy gate's preflight cache fails to construct.
func NewEngine(cfg EngineConfig, decide DecideCoordinator, store CAS, publisher Publisher) (*Engine, error) {
	threshold := cfg.BootstrapThreshold
	if threshold <= 0 {
		threshold = DefaultBootstrapThreshold
	}
	kTarget := cfg.KTarget
	if kTarget <= 0 {
		kTarget = DefaultKTarget
	}
	policyVersion := cfg.PolicyVersion
	if policyVersion == "" {
		policyVersion = "v1"
	}
	gasLimit := cfg.GasLimit
	if gasLimit <= 0 {
		gasLimit = DefaultGasLimit
	}
	gate, err := NewGateEnforcer(cfg.Rules, policyVersion, gasLimit, cfg.PreflightCacheSize)
	if err != nil {
		return nil, Wrap(ErrKindInfrastructure, err)
	}
	return &Engine{
		Plans:            NewPlanStore(),
		Leases:           NewLeaseManager(),
		Heartbeats:       NewHeartbeatProtocol(DefaultHeartbeatTolerance),
		Quorum:           NewQuorumTracker(),
		Decide:           decide,
		Verifiers:        NewVerifierPool(),
		Reputation:       NewReputationTracker(),
		Bootstrap:        NewBootstrapManager(threshold, kTarget),
		Gate:             gate,
		Store:            store,
		Clock:            NewLamportClock(),
		SelfID:           cfg.SelfID,
		Publisher:        publisher,
		MinVerifierStake: cfg.MinVerifierStake,
	}, nil
}

// KPlan returns the dynamic quorum size for the current committee size.
func (e *Engine) KPlan() int {
	return e.Bootstrap.KPlan(e.Verifiers.ActiveCount())
}

// emit builds, signs, and publishes an envelope of kind against threadID,
// ticking the engine's Lamport clock. Used by handlers that emit
// downstream envelopes (DECIDE, RELEASE).
func (e *Engine) emit(kind Kind, threadID string, payload map[string]any) error {
	env, err := MakeEnvelope(e.Clock, kind, threadID, e.SelfPK, payload, "")
	if err != nil {
		return Wrap(ErrKindValidation, err)
	}
	signed, err := Sign(env, e.SelfPK, e.SelfSK)
	if err != nil {
		return Wrap(ErrKindValidation, err)
	}
	if e.Publisher == nil {
		return nil
	}
	if err := e.Publisher.Publish(signed); err != nil {
		return Wrap(ErrKindResource, err)
	}
	return nil
}
