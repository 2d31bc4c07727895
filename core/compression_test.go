package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressionRoundTrip(t *testing.T) {
	summary := map[string]any{
		"epoch":    float64(4),
		"op_count": float64(800),
		"tasks": map[string]any{
			"task-1": "FINAL",
		},
	}
	compressed, err := CompressStateSummary(summary)
	require.NoError(t, err)
	require.Equal(t, true, compressed[markerCompressed])

	got, err := DecompressStateSummary(compressed)
	require.NoError(t, err)
	require.Equal(t, summary, got)
}

func TestDecompressPassthroughForPlainSummary(t *testing.T) {
	plain := map[string]any{"epoch": float64(1)}
	got, err := DecompressStateSummary(plain)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestDecompressRejectsTamperedChecksum(t *testing.T) {
	compressed, err := CompressStateSummary(map[string]any{"a": float64(1)})
	require.NoError(t, err)
	compressed[markerChecksum] = "0000"
	_, err = DecompressStateSummary(compressed)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}
