package core

import (
	"bytes"
	"crypto/sha256"
	"errors"
)

// MerkleProofStep is one sibling hash on the path from a leaf to the root,
// tagged with which side of the pair it occupies during recombination.
type MerkleProofStep struct {
	Sibling     [32]byte
	IsRightSide bool // true if Sibling is the right operand when rehashing
}

// BuildMerkleTree returns the level-by-level nodes of a Merkle tree built
// from the provided leaves. Each leaf is hashed using SHA-256. Odd levels
// duplicate their last node before pairing, per the standard Bitcoin-style
// construction. The last slice contains the single root hash.
func BuildMerkleTree(leaves [][]byte) ([][][32]byte, error) {
	if len(leaves) == 0 {
		return nil, errors.New("merkle: no leaves")
	}

	level := make([][32]byte, len(leaves))
	for i, l := range leaves {
		level[i] = sha256.Sum256(l)
	}

	tree := [][][32]byte{level}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			pair := append(append([]byte{}, level[i][:]...), level[i+1][:]...)
			next[i/2] = sha256.Sum256(pair)
		}
		tree = append(tree, next)
		level = next
	}

	return tree, nil
}

// MerkleRoot is a convenience wrapper returning only the root of the tree
// built over leaves.
func MerkleRoot(leaves [][]byte) ([32]byte, error) {
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return [32]byte{}, err
	}
	return tree[len(tree)-1][0], nil
}

// MerkleProof returns a proof for the leaf at index along with the tree's
// root hash. Each step records its sibling and whether that sibling sits on
// the right during recombination, so VerifyMerklePath never needs the
// original index.
func MerkleProof(leaves [][]byte, index uint32) ([]MerkleProofStep, [32]byte, error) {
	if len(leaves) == 0 {
		return nil, [32]byte{}, errors.New("merkle: no leaves")
	}
	if int(index) >= len(leaves) {
		return nil, [32]byte{}, errors.New("merkle: index out of range")
	}

	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return nil, [32]byte{}, err
	}

	proof := make([]MerkleProofStep, 0, len(tree)-1)
	idx := int(index)
	for i := 0; i < len(tree)-1; i++ {
		level := tree[i]
		if idx%2 == 0 {
			// An odd level's last node pairs with a copy of itself.
			sibling := level[idx]
			if idx+1 < len(level) {
				sibling = level[idx+1]
			}
			proof = append(proof, MerkleProofStep{Sibling: sibling, IsRightSide: true})
		} else {
			proof = append(proof, MerkleProofStep{Sibling: level[idx-1], IsRightSide: false})
		}
		idx /= 2
	}

	root := tree[len(tree)-1][0]
	return proof, root, nil
}

// VerifyMerklePath checks whether the supplied proof reconstructs root for
// the given leaf. Flipping any bit of any sibling, or any IsRightSide flag,
// must fail verification (invariant 7: Merkle proof soundness).
func VerifyMerklePath(root [32]byte, leaf []byte, proof []MerkleProofStep) bool {
	h := sha256.Sum256(leaf)
	hash := h[:]
	for _, step := range proof {
		var pair []byte
		if step.IsRightSide {
			pair = append(append([]byte{}, hash...), step.Sibling[:]...)
		} else {
			pair = append(append([]byte{}, step.Sibling[:]...), hash...)
		}
		sum := sha256.Sum256(pair)
		hash = sum[:]
	}
	return bytes.Equal(hash, root[:])
}
