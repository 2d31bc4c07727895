package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerkleProofSoundness(t *testing.T) {
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")}
	for i := range leaves {
		proof, root, err := MerkleProof(leaves, uint32(i))
		require.NoError(t, err)
		require.True(t, VerifyMerklePath(root, leaves[i], proof))

		if len(proof) > 0 {
			tampered := make([]MerkleProofStep, len(proof))
			copy(tampered, proof)
			tampered[0].Sibling[0] ^= 0xFF
			require.False(t, VerifyMerklePath(root, leaves[i], tampered))
		}
	}
}

func TestMerkleRootMatchesProofRoot(t *testing.T) {
	leaves := [][]byte{[]byte("x"), []byte("y"), []byte("z")}
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)
	_, proofRoot, err := MerkleProof(leaves, 1)
	require.NoError(t, err)
	require.Equal(t, root, proofRoot)
}
