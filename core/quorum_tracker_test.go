package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuorumTriggersOnce(t *testing.T) {
	qt := NewQuorumTracker()
	triggers := 0
	for i := 0; i < 5; i++ {
		var v Address
		v[0] = byte(i)
		_, first := qt.Record("need-1", "prop-1", v, 3)
		if first {
			triggers++
		}
	}
	require.Equal(t, 1, triggers)
	require.Equal(t, 5, qt.Count("need-1", "prop-1"))
}

func TestQuorumDuplicateVerifierIgnored(t *testing.T) {
	qt := NewQuorumTracker()
	var v Address
	v[0] = 1
	qt.Record("need-1", "prop-1", v, 2)
	reached, first := qt.Record("need-1", "prop-1", v, 2)
	require.False(t, reached)
	require.False(t, first)
	require.Equal(t, 1, qt.Count("need-1", "prop-1"))
}
