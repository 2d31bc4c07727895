package core

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Checkpoint is a Merkle-rooted snapshot of plan state at an epoch boundary.
type Checkpoint struct {
	Epoch        int64          `json:"epoch"`
	MerkleRoot   string         `json:"merkle_root"`
	StateSummary map[string]any `json:"state_summary"`
	TimestampNs  int64          `json:"timestamp_ns"`
	OpCount      int            `json:"op_count"`
	// LastLamport is the highest Lamport value among the ops this checkpoint
	// covers; fast-sync uses it to request only ops past this point. Not
	// part of the hashed representation.
	LastLamport int64 `json:"last_lamport"`
}

// CheckpointSignature pairs a verifier with its signature over the
// checkpoint's hash.
type CheckpointSignature struct {
	VerifierID Address `json:"verifier_id"`
	Signature  []byte  `json:"signature"`
}

// SignedCheckpoint is a checkpoint plus the signatures gathered toward
// quorum.
type SignedCheckpoint struct {
	Checkpoint Checkpoint             `json:"checkpoint"`
	Signatures []CheckpointSignature  `json:"signatures"`
}

// Hash returns the SHA-256 of the canonical representation of
// {epoch, merkle_root, op_count, ts_ns, state_summary}, the value verifiers
// sign and receivers re-derive to detect tampering.
func (c Checkpoint) Hash() ([32]byte, error) {
	b, err := canonicalJSON(map[string]any{
		"epoch":         c.Epoch,
		"merkle_root":   c.MerkleRoot,
		"op_count":      c.OpCount,
		"ts_ns":         c.TimestampNs,
		"state_summary": c.StateSummary,
	})
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// CheckpointManager builds, signs, persists, and loads epoch checkpoints.
type CheckpointManager struct {
	dir   string
	mu    sync.RWMutex
	cache map[int64]SignedCheckpoint
}

// NewCheckpointManager returns a manager persisting under dir.
func NewCheckpointManager(dir string) *CheckpointManager {
	return &CheckpointManager{dir: dir, cache: make(map[int64]SignedCheckpoint)}
}

// Seal builds a checkpoint for epoch from opHashes (the leaf hashes of ops
// in the epoch) and stateSummary, optionally compressing the summary.
func (cm *CheckpointManager) Seal(epoch int64, opHashes [][]byte, stateSummary map[string]any, compress bool) (Checkpoint, error) {
	return cm.SealAt(epoch, opHashes, stateSummary, compress, 0)
}

// SealAt is Seal with an explicit lastLamport, the highest Lamport value
// among the ops folded into this epoch, used by fast-sync to bound its
// catch-up request.
func (cm *CheckpointManager) SealAt(epoch int64, opHashes [][]byte, stateSummary map[string]any, compress bool, lastLamport int64) (Checkpoint, error) {
	root, err := MerkleRoot(opHashes)
	if err != nil {
		return Checkpoint{}, err
	}
	summary := stateSummary
	if compress {
		summary, err = CompressStateSummary(stateSummary)
		if err != nil {
			return Checkpoint{}, err
		}
	}
	return Checkpoint{
		Epoch:        epoch,
		MerkleRoot:   hex.EncodeToString(root[:]),
		StateSummary: summary,
		TimestampNs:  nowNs(),
		OpCount:      len(opHashes),
		LastLamport:  lastLamport,
	}, nil
}

// SignCheckpoint gathers a verifier's signature over the checkpoint's hash.
func SignCheckpoint(cp Checkpoint, verifierID Address, sk ed25519.PrivateKey) (CheckpointSignature, error) {
	h, err := cp.Hash()
	if err != nil {
		return CheckpointSignature{}, err
	}
	return CheckpointSignature{VerifierID: verifierID, Signature: ed25519.Sign(sk, h[:])}, nil
}

// VerifyQuorum checks that at least quorum distinct verifiers in sigs have
// signatures over cp's hash that verify against their public keys in
// pubKeys. A verifier_id that appears more than once counts only once.
func VerifyQuorum(cp Checkpoint, sigs []CheckpointSignature, pubKeys map[Address]ed25519.PublicKey, quorum int) bool {
	h, err := cp.Hash()
	if err != nil {
		return false
	}
	seen := make(map[Address]struct{})
	valid := 0
	for _, s := range sigs {
		if _, dup := seen[s.VerifierID]; dup {
			continue
		}
		pk, ok := pubKeys[s.VerifierID]
		if !ok {
			continue
		}
		if ed25519.Verify(pk, h[:], s.Signature) {
			seen[s.VerifierID] = struct{}{}
			valid++
		}
	}
	return valid >= quorum
}

func checkpointFilename(epoch int64) string {
	return fmt.Sprintf("checkpoint_epoch_%d.json", epoch)
}

// Store persists sc to disk under dir and caches it in memory.
func (cm *CheckpointManager) Store(sc SignedCheckpoint) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cm.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(cm.dir, checkpointFilename(sc.Checkpoint.Epoch))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	cm.mu.Lock()
	cm.cache[sc.Checkpoint.Epoch] = sc
	cm.mu.Unlock()
	return nil
}

// ClearCache drops the in-memory checkpoint cache, forcing the next Load to
// read from disk. Used by tests exercising the store/reload path (S5).
func (cm *CheckpointManager) ClearCache() {
	cm.mu.Lock()
	cm.cache = make(map[int64]SignedCheckpoint)
	cm.mu.Unlock()
}

// Load returns the checkpoint for epoch, preferring the in-memory cache and
// falling back to disk. The returned state_summary is decompressed if it
// carries compression markers.
func (cm *CheckpointManager) Load(epoch int64) (SignedCheckpoint, error) {
	cm.mu.RLock()
	if sc, ok := cm.cache[epoch]; ok {
		cm.mu.RUnlock()
		summary, err := DecompressStateSummary(sc.Checkpoint.StateSummary)
		if err != nil {
			return SignedCheckpoint{}, err
		}
		sc.Checkpoint.StateSummary = summary
		return sc, nil
	}
	cm.mu.RUnlock()

	path := filepath.Join(cm.dir, checkpointFilename(epoch))
	raw, err := os.ReadFile(path)
	if err != nil {
		return SignedCheckpoint{}, err
	}
	var sc SignedCheckpoint
	if err := json.Unmarshal(raw, &sc); err != nil {
		return SignedCheckpoint{}, err
	}
	summary, err := DecompressStateSummary(sc.Checkpoint.StateSummary)
	if err != nil {
		return SignedCheckpoint{}, err
	}
	sc.Checkpoint.StateSummary = summary

	cm.mu.Lock()
	cm.cache[epoch] = sc
	cm.mu.Unlock()
	return sc, nil
}

// LatestEpoch scans dir for the highest sealed epoch, or returns ok=false if
// none exist.
func (cm *CheckpointManager) LatestEpoch() (int64, bool, error) {
	entries, err := os.ReadDir(cm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var latest int64 = -1
	found := false
	for _, e := range entries {
		var epoch int64
		if _, err := fmt.Sscanf(e.Name(), "checkpoint_epoch_%d.json", &epoch); err == nil {
			if !found || epoch > latest {
				latest = epoch
				found = true
			}
		}
	}
	return latest, found, nil
}
