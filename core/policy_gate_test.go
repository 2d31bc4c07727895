package core

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeTestEnvelope(t *testing.T) Envelope {
	t.Helper()
	pk, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clock := NewLamportClock()
	env, err := MakeEnvelope(clock, KindAttest, "t1", pk, map[string]any{"verdict": "approve"}, "policy-v1")
	require.NoError(t, err)
	return env
}

func TestPreflightCachesDecision(t *testing.T) {
	g, err := NewGateEnforcer(BaseRuleEvaluator{}, "v1", DefaultGasLimit, 16)
	require.NoError(t, err)
	env := makeTestEnvelope(t)

	d1 := g.Preflight("attest", env)
	require.True(t, d1.Allowed)
	d2 := g.Preflight("attest", env)
	require.Equal(t, d1, d2)
}

func TestIngressRejectsUnknownKind(t *testing.T) {
	g, err := NewGateEnforcer(BaseRuleEvaluator{}, "v1", DefaultGasLimit, 16)
	require.NoError(t, err)
	env := makeTestEnvelope(t)
	env.Kind = "BOGUS"
	d := g.Ingress(env)
	require.False(t, d.Allowed)
	require.Contains(t, d.Reasons, "unknown_kind")
}

func TestCommitGateFlagsResourceViolation(t *testing.T) {
	g, err := NewGateEnforcer(BaseRuleEvaluator{}, "v1", DefaultGasLimit, 16)
	require.NoError(t, err)
	env := makeTestEnvelope(t)
	claim := ResourceClaim{CPUms: 100, MemoryMB: 64, Gas: 1000}
	actual := Telemetry{CPUms: 200, MemoryMB: 64, Gas: 1000}
	d := g.CommitGate(env, claim, actual)
	require.False(t, d.Allowed)
	require.Contains(t, d.Reasons, "resource_violation")
}

func TestGasMeterExceedsCap(t *testing.T) {
	meter := NewGasMeter(5)
	require.NoError(t, meter.Consume(3))
	require.ErrorIs(t, meter.Consume(3), ErrGasExceeded)
	require.Equal(t, 3, meter.Used())
}
