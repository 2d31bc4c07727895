package core

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckpointSealAndQuorumVerify(t *testing.T) {
	cm := NewCheckpointManager(filepath.Join(t.TempDir(), "checkpoints"))

	opHashes := [][]byte{[]byte("op-1"), []byte("op-2"), []byte("op-3")}
	summary := map[string]any{"epoch": float64(1), "tasks": float64(3)}
	cp, err := cm.Seal(1, opHashes, summary, false)
	require.NoError(t, err)
	require.Equal(t, 3, cp.OpCount)
	require.NotEmpty(t, cp.MerkleRoot)

	pubKeys := map[Address]ed25519.PublicKey{}
	var sigs []CheckpointSignature
	for i := byte(0); i < 3; i++ {
		pk, sk, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		id := testAddr(i)
		pubKeys[id] = pk
		sig, err := SignCheckpoint(cp, id, sk)
		require.NoError(t, err)
		sigs = append(sigs, sig)
	}

	require.True(t, VerifyQuorum(cp, sigs, pubKeys, 2))
	require.False(t, VerifyQuorum(cp, sigs, pubKeys, 4))
}

func TestCheckpointQuorumRejectsDuplicateSigner(t *testing.T) {
	cm := NewCheckpointManager(t.TempDir())
	cp, err := cm.Seal(1, [][]byte{[]byte("op-1")}, map[string]any{"epoch": float64(1)}, false)
	require.NoError(t, err)

	pk, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id := testAddr(1)
	sig, err := SignCheckpoint(cp, id, sk)
	require.NoError(t, err)

	dup := []CheckpointSignature{sig, sig}
	require.False(t, VerifyQuorum(cp, dup, map[Address]ed25519.PublicKey{id: pk}, 2))
}

func TestCheckpointStoreAndLoadRoundTrip(t *testing.T) {
	cm := NewCheckpointManager(t.TempDir())
	summary := map[string]any{"epoch": float64(2), "op_count": float64(5)}
	cp, err := cm.Seal(2, [][]byte{[]byte("a"), []byte("b")}, summary, true)
	require.NoError(t, err)

	sc := SignedCheckpoint{Checkpoint: cp}
	require.NoError(t, cm.Store(sc))

	cm.ClearCache()
	loaded, err := cm.Load(2)
	require.NoError(t, err)
	require.Equal(t, summary, loaded.Checkpoint.StateSummary)
	require.Equal(t, cp.MerkleRoot, loaded.Checkpoint.MerkleRoot)

	latest, ok, err := cm.LatestEpoch()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), latest)
}
