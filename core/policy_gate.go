package core

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/BurntSushi/toml"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Gate names the three enforcement points of §4.7.
type Gate string

const (
	GatePreflight  Gate = "preflight"
	GateIngress    Gate = "ingress"
	GateCommit     Gate = "commit"
)

// MaxPayloadBytes is the base rule's payload size ceiling (1 MiB).
const MaxPayloadBytes = 1 << 20

// PolicyDecision is the pure-function result of one policy evaluation.
type PolicyDecision struct {
	Allowed       bool
	Reasons       []string
	GasUsed       int
	PolicyVersion string
}

// RuleEvaluator is a pluggable policy rule set, letting the base closed-verb/
// size/field checks be extended or swapped without touching the gate's
// gas-metering or caching logic (supplemented from the original's pluggable
// evaluator shape).
type RuleEvaluator interface {
	// Evaluate charges gas via meter and appends to reasons on violation.
	// It must not panic on ErrGasExceeded; callers check meter state after.
	Evaluate(meter *GasMeter, env Envelope, reasons *[]string)
}

// BaseRuleEvaluator enforces the default rules named in §4.7: the envelope
// kind belongs to the closed verb set, payload_hash/sender_pk/nonce are
// present, and the payload is under MaxPayloadBytes.
type BaseRuleEvaluator struct{}

func (BaseRuleEvaluator) Evaluate(meter *GasMeter, env Envelope, reasons *[]string) {
	if err := meter.Consume(GasCostSetMembership); err != nil {
		*reasons = append(*reasons, "gas_exceeded")
		return
	}
	if !IsKnownKind(env.Kind) {
		*reasons = append(*reasons, "unknown_kind")
	}

	_ = meter.Consume(GasCostFieldAccess * 3)
	if env.PayloadHash == "" || len(env.SenderPK) == 0 || env.Nonce == "" {
		*reasons = append(*reasons, "missing_fields")
	}

	if err := meter.Consume(GasCostComparison); err != nil {
		*reasons = append(*reasons, "gas_exceeded")
		return
	}
	size, err := canonicalJSON(env.Payload)
	if err == nil && len(size) >= MaxPayloadBytes {
		*reasons = append(*reasons, "payload_too_large")
	}
}

// RuleSet is the on-disk, TOML-loaded policy configuration whose serialized
// bytes feed the policy_hash computation.
type RuleSet struct {
	Version        string   `toml:"version"`
	AllowedKinds   []string `toml:"allowed_kinds"`
	MaxPayloadMiB  int      `toml:"max_payload_mib"`
}

// LoadRuleSet reads and parses a TOML ruleset file.
func LoadRuleSet(path string) (RuleSet, error) {
	var rs RuleSet
	raw, err := os.ReadFile(path)
	if err != nil {
		return rs, err
	}
	if err := toml.Unmarshal(raw, &rs); err != nil {
		return rs, err
	}
	return rs, nil
}

// PolicyHash returns the SHA-256 hex digest of the TOML-serialized ruleset.
// The hash is not recorded anywhere: evaluation decisions carry only the
// configured policy version label, and checkpoints carry no policy hash.
func (rs RuleSet) PolicyHash() (string, error) {
	raw, err := toml.Marshal(rs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// preflightCacheKey is (operation, agent_id), the key named in §4.7's
// preflight caching row.
type preflightCacheKey struct {
	operation string
	agentID   Address
}

// GateEnforcer evaluates envelopes at the three policy gates, gas-metering
// every evaluation and caching preflight decisions by (operation, agent_id).
type GateEnforcer struct {
	rules         RuleEvaluator
	policyVersion string
	gasLimit      int
	preflightCache *lru.Cache[preflightCacheKey, PolicyDecision]
}

// NewGateEnforcer wires an enforcer with the given rule evaluator, policy
// version label, and gas cap; cacheSize bounds the preflight LRU.
func NewGateEnforcer(rules RuleEvaluator, policyVersion string, gasLimit, cacheSize int) (*GateEnforcer, error) {
	if rules == nil {
		rules = BaseRuleEvaluator{}
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[preflightCacheKey, PolicyDecision](cacheSize)
	if err != nil {
		return nil, err
	}
	return &GateEnforcer{rules: rules, policyVersion: policyVersion, gasLimit: gasLimit, preflightCache: cache}, nil
}

// Preflight evaluates env before publish, consulting the (operation,
// agent_id)-keyed cache first.
func (g *GateEnforcer) Preflight(operation string, env Envelope) PolicyDecision {
	agent, ok := AddressFromBytes(env.SenderPK)
	if !ok {
		return PolicyDecision{Allowed: false, Reasons: []string{"invalid_sender"}, PolicyVersion: g.policyVersion}
	}
	key := preflightCacheKey{operation: operation, agentID: agent}
	if cached, ok := g.preflightCache.Get(key); ok {
		return cached
	}
	decision := g.evaluate(env)
	g.preflightCache.Add(key, decision)
	return decision
}

// Ingress evaluates env on receive, before dispatch. No caching: every
// envelope is evaluated fresh.
func (g *GateEnforcer) Ingress(env Envelope) PolicyDecision {
	return g.evaluate(env)
}

// ResourceClaim is the payload's claimed resource usage, compared against
// actual telemetry at the commit gate.
type ResourceClaim struct {
	CPUms     float64
	MemoryMB  float64
	Gas       float64
}

// Telemetry is the actual resource usage reported alongside an ATTEST.
type Telemetry struct {
	CPUms    float64
	MemoryMB float64
	Gas      float64
}

// commitGateTolerance is the allowed overage before a resource claim is
// flagged as a violation (§4.7: actual > claimed * 1.10).
const commitGateTolerance = 1.10

// CommitGate evaluates env inside the ATTEST handler, additionally
// comparing claimed vs. actual resource usage; any violation forces
// Allowed=false even if the base rules otherwise accept.
func (g *GateEnforcer) CommitGate(env Envelope, claim ResourceClaim, actual Telemetry) PolicyDecision {
	decision := g.evaluate(env)
	meter := NewGasMeter(g.gasLimit)
	_ = meter.Consume(GasCostComparison * 3)
	violated := actual.CPUms > claim.CPUms*commitGateTolerance ||
		actual.MemoryMB > claim.MemoryMB*commitGateTolerance ||
		actual.Gas > claim.Gas*commitGateTolerance
	if violated {
		decision.Allowed = false
		decision.Reasons = append(decision.Reasons, "resource_violation")
	}
	return decision
}

func (g *GateEnforcer) evaluate(env Envelope) PolicyDecision {
	meter := NewGasMeter(g.gasLimit)
	var reasons []string
	g.rules.Evaluate(meter, env, &reasons)
	if meter.Used() >= meter.limit {
		return PolicyDecision{Allowed: false, Reasons: []string{"gas_exceeded"}, GasUsed: meter.Used(), PolicyVersion: g.policyVersion}
	}
	return PolicyDecision{
		Allowed:       len(reasons) == 0,
		Reasons:       reasons,
		GasUsed:       meter.Used(),
		PolicyVersion: g.policyVersion,
	}
}
