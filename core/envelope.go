package core

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"
)

// Envelope is the signed, canonicalized wire unit that transports a verb
// between participants.
type Envelope struct {
	Version          int            `json:"version"`
	ID               string         `json:"id"`
	ThreadID         string         `json:"thread_id"`
	Kind             Kind           `json:"kind"`
	Lamport          int64          `json:"lamport"`
	TsNs             int64          `json:"ts_ns"`
	SenderPK         []byte         `json:"sender_pk"`
	Payload          map[string]any `json:"payload"`
	PayloadHash      string         `json:"payload_hash"`
	PolicyEngineHash string         `json:"policy_engine_hash"`
	Nonce            string         `json:"nonce"`
	SigPK            []byte         `json:"sig_pk"`
	Sig              []byte         `json:"sig"`
}

// Validation errors from §7's taxonomy, returned by Verify.
var (
	ErrInvalidSignature     = errors.New("envelope: invalid signature")
	ErrPayloadHashMismatch  = errors.New("envelope: payload hash mismatch")
	ErrNonPositiveLamport   = errors.New("envelope: lamport must be positive")
	ErrUnknownKind          = errors.New("envelope: unknown kind")
)

// MakeEnvelope builds an unsigned envelope: ticks the clock, stamps ts_ns,
// computes payload_hash, and fills in defaults for id/nonce when empty.
func MakeEnvelope(clock *LamportClock, kind Kind, threadID string, senderPK []byte, payload map[string]any, policyHash string) (Envelope, error) {
	if !IsKnownKind(kind) {
		return Envelope{}, ErrUnknownKind
	}
	ph, err := canonicalPayloadHash(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Version:          1,
		ID:               uuid.NewString(),
		ThreadID:         threadID,
		Kind:             kind,
		Lamport:          clock.Tick(),
		TsNs:             nowNs(),
		SenderPK:         senderPK,
		Payload:          payload,
		PayloadHash:      ph,
		PolicyEngineHash: policyHash,
		Nonce:            uuid.NewString(),
	}, nil
}

// Sign computes the canonical bytes of the envelope minus sig_pk/sig and
// signs them with private key sk, returning a copy carrying the signature.
func Sign(env Envelope, pk ed25519.PublicKey, sk ed25519.PrivateKey) (Envelope, error) {
	signable, err := canonicalSignableBytes(env)
	if err != nil {
		return Envelope{}, err
	}
	out := env
	out.SigPK = append([]byte(nil), pk...)
	out.Sig = ed25519.Sign(sk, signable)
	return out, nil
}

// Verify checks lamport positivity, recomputes the payload hash, and
// verifies the Ed25519 signature over the canonical serialization.
func Verify(env Envelope) error {
	if env.Lamport <= 0 {
		return ErrNonPositiveLamport
	}
	if !IsKnownKind(env.Kind) {
		return ErrUnknownKind
	}
	ph, err := canonicalPayloadHash(env.Payload)
	if err != nil {
		return err
	}
	if ph != env.PayloadHash {
		return ErrPayloadHashMismatch
	}
	signable, err := canonicalSignableBytes(env)
	if err != nil {
		return err
	}
	if len(env.SigPK) != ed25519.PublicKeySize || len(env.Sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(env.SigPK), signable, env.Sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Observe folds a received envelope's lamport value into clock using the
// classic receive update, per LamportClock.Observe.
func Observe(clock *LamportClock, env Envelope) int64 {
	return clock.Observe(env.Lamport)
}

// canonicalPayloadHash returns the hex SHA-256 digest of the canonical JSON
// encoding of payload.
func canonicalPayloadHash(payload map[string]any) (string, error) {
	b, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalSignableBytes returns the canonical JSON of every envelope field
// except sig_pk and sig, the bytes the signature covers.
func canonicalSignableBytes(env Envelope) ([]byte, error) {
	m := map[string]any{
		"version":            env.Version,
		"id":                 env.ID,
		"thread_id":          env.ThreadID,
		"kind":                string(env.Kind),
		"lamport":            env.Lamport,
		"ts_ns":              env.TsNs,
		"sender_pk":          hex.EncodeToString(env.SenderPK),
		"payload_hash":       env.PayloadHash,
		"policy_engine_hash": env.PolicyEngineHash,
		"nonce":              env.Nonce,
	}
	return canonicalJSON(m)
}

// canonicalJSON encodes v as JSON with lexicographically sorted object keys
// and no insignificant whitespace, recursively, so hashes and signatures are
// byte-identical across implementations that follow the same rule.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return marshalCanonical(normalized)
}

// normalize round-trips v through encoding/json so map[string]any values
// nested inside (e.g. from a PlanOp payload) become directly comparable Go
// values (float64, string, bool, nil, []any, map[string]any).
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
