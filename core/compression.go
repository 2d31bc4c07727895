package core

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/klauspost/compress/zstd"
)

// Compression marker keys embedded in a compressed state_summary so a
// receiver can distinguish compressed from plain summaries without
// out-of-band metadata (§4.8, supplemented from the original's
// checkpoint.py marker scheme).
const (
	markerCompressed = "__compressed__"
	markerCodec      = "__codec__"
	markerSize       = "__size__"
	markerChecksum   = "__checksum__"
	codecZstd        = "zstd"
)

// ErrChecksumMismatch is an integrity error: the compressed payload's
// checksum does not match its marker, treated as fatal for the current sync
// attempt per §7.
var ErrChecksumMismatch = errors.New("checkpoint: compressed payload checksum mismatch")

// CompressStateSummary deterministically compresses summary's canonical
// JSON encoding at zstd level 3 and wraps it with marker keys recording the
// codec, original size, and a checksum of the compressed bytes.
func CompressStateSummary(summary map[string]any) (map[string]any, error) {
	raw, err := canonicalJSON(summary)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(3)))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)
	sum := sha256.Sum256(compressed)

	return map[string]any{
		markerCompressed: true,
		markerCodec:      codecZstd,
		markerSize:       len(raw),
		markerChecksum:   hex.EncodeToString(sum[:]),
		"data":           compressed,
	}, nil
}

// DecompressStateSummary reverses CompressStateSummary, returning the
// original summary map. If wrapped is not a compressed marker envelope, it
// is returned unchanged (callers may hand it either form).
func DecompressStateSummary(wrapped map[string]any) (map[string]any, error) {
	flag, ok := wrapped[markerCompressed]
	if !ok || flag != true {
		return wrapped, nil
	}

	data, err := extractDataBytes(wrapped["data"])
	if err != nil {
		return nil, err
	}

	if checksum, ok := wrapped[markerChecksum].(string); ok {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != checksum {
			return nil, ErrChecksumMismatch
		}
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}

	normalized, err := normalize(rawJSON(raw))
	if err != nil {
		return nil, err
	}
	out, _ := normalized.(map[string]any)
	return out, nil
}

// extractDataBytes accepts either a native []byte (produced in-process by
// CompressStateSummary) or a base64 string (the shape a []byte field takes
// once it has round-tripped through encoding/json into a map[string]any,
// as happens when a checkpoint is persisted and reloaded).
func extractDataBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return base64.StdEncoding.DecodeString(t)
	default:
		return nil, errors.New("checkpoint: compressed data field has unexpected type")
	}
}

// rawJSON is a thin alias so normalize (which expects encoding/json to
// marshal its input) can pass already-serialized bytes through unchanged.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }
