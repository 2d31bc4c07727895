package core

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clock := NewLamportClock()
	env, err := MakeEnvelope(clock, KindNeed, "t1", pk, map[string]any{"task_type": "gen"}, "policy-v1")
	require.NoError(t, err)

	signed, err := Sign(env, pk, sk)
	require.NoError(t, err)
	require.NoError(t, Verify(signed))
}

func TestEnvelopeVerifyRejectsTamperedPayload(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clock := NewLamportClock()
	env, err := MakeEnvelope(clock, KindNeed, "t1", pk, map[string]any{"a": 1}, "")
	require.NoError(t, err)
	signed, err := Sign(env, pk, sk)
	require.NoError(t, err)

	signed.Payload["a"] = 2
	require.ErrorIs(t, Verify(signed), ErrPayloadHashMismatch)
}

func TestEnvelopeVerifyRejectsBadSignature(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clock := NewLamportClock()
	env, err := MakeEnvelope(clock, KindNeed, "t1", pk, map[string]any{"a": 1}, "")
	require.NoError(t, err)
	signed, err := Sign(env, pk, sk)
	require.NoError(t, err)

	signed.Sig[0] ^= 0xFF
	require.ErrorIs(t, Verify(signed), ErrInvalidSignature)
}

func TestEnvelopeVerifyRejectsNonPositiveLamport(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clock := NewLamportClock()
	env, err := MakeEnvelope(clock, KindNeed, "t1", pk, map[string]any{}, "")
	require.NoError(t, err)
	env.Lamport = 0
	signed, err := Sign(env, pk, sk)
	require.NoError(t, err)
	require.ErrorIs(t, Verify(signed), ErrNonPositiveLamport)
}

func TestObserveAdvancesPastPeer(t *testing.T) {
	clock := NewLamportClock()
	clock.Tick() // 1
	clock.Tick() // 2
	got := clock.Observe(10)
	require.Equal(t, int64(11), got)
}
