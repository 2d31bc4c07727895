package core

import (
	"encoding/hex"
	"time"
)

// Address identifies a participant by its Ed25519 public key. It is the
// sender of an envelope, the worker of a lease, and the verifier of an
// attestation: one identity type covers all three roles.
type Address [32]byte

// Hex returns the lowercase hex encoding of the address.
func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

// String satisfies fmt.Stringer so addresses print legibly in logs.
func (a Address) String() string { return a.Hex() }

// AddressFromBytes copies pk into an Address. pk must be exactly 32 bytes.
func AddressFromBytes(pk []byte) (Address, bool) {
	var a Address
	if len(pk) != len(a) {
		return a, false
	}
	copy(a[:], pk)
	return a, true
}

// Kind enumerates the closed set of envelope verbs. The verb set is closed
// by design (see Design Notes on tagged unions vs. open handler registries);
// new verbs require a deliberate addition here, not dynamic registration.
type Kind string

const (
	KindNeed            Kind = "NEED"
	KindPropose         Kind = "PROPOSE"
	KindProposeExtended Kind = "PROPOSE_EXTENDED"
	KindAttest          Kind = "ATTEST"
	KindAttestPlan      Kind = "ATTEST_PLAN"
	KindDecide          Kind = "DECIDE"
	KindClaim           Kind = "CLAIM"
	KindClaimExtended   Kind = "CLAIM_EXTENDED"
	KindHeartbeat       Kind = "HEARTBEAT"
	KindCommit          Kind = "COMMIT"
	KindFinalize        Kind = "FINALIZE"
	KindYield           Kind = "YIELD"
	KindRelease         Kind = "RELEASE"
	KindUpdatePlan      Kind = "UPDATE_PLAN"
)

// knownKinds backs the policy gate's closed-set validation.
var knownKinds = map[Kind]struct{}{
	KindNeed: {}, KindPropose: {}, KindProposeExtended: {}, KindAttest: {},
	KindAttestPlan: {}, KindDecide: {}, KindClaim: {}, KindClaimExtended: {},
	KindHeartbeat: {}, KindCommit: {}, KindFinalize: {}, KindYield: {},
	KindRelease: {}, KindUpdatePlan: {},
}

// IsKnownKind reports whether k belongs to the closed verb set.
func IsKnownKind(k Kind) bool {
	_, ok := knownKinds[k]
	return ok
}

// AllKinds returns every verb in the closed set, in declaration order. Used
// by transports that must subscribe one topic per verb per thread rather
// than relying on wildcard topic matching.
func AllKinds() []Kind {
	return []Kind{
		KindNeed, KindPropose, KindProposeExtended, KindAttest, KindAttestPlan,
		KindDecide, KindClaim, KindClaimExtended, KindHeartbeat, KindCommit,
		KindFinalize, KindYield, KindRelease, KindUpdatePlan,
	}
}

// Topic returns the gossip topic this kind is published under for the given
// thread, following the "/swarm/thread/<thread_id>/<verb>" convention.
func (k Kind) Topic(threadID string) string {
	return "/swarm/thread/" + threadID + "/" + lowerASCII(string(k))
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// OpType enumerates PlanOp kinds appended to the op-log.
type OpType string

const (
	OpAddTask OpType = "ADD_TASK"
	OpState   OpType = "STATE"
	OpLink    OpType = "LINK"
	OpAnnotate OpType = "ANNOTATE"
)

// TaskState is the derived state machine for a task (DRAFT -> ... -> FINAL).
type TaskState string

const (
	StateDraft    TaskState = "DRAFT"
	StateDecided  TaskState = "DECIDED"
	StateClaimed  TaskState = "CLAIMED"
	StateFinal    TaskState = "FINAL"
)

// NodeID identifies a gossip-layer peer (libp2p peer ID string form).
type NodeID string

// Peer is a known remote participant on the gossip substrate.
type Peer struct {
	ID   NodeID
	Addr string
}

// Message is a decoded payload delivered by the gossip substrate.
type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// NodeConfig configures a concrete gossip node.
type NodeConfig struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// nowNs returns the current wall-clock time in nanoseconds since the Unix
// epoch, the unit used throughout the wire format for ts_ns fields.
func nowNs() int64 { return time.Now().UnixNano() }
