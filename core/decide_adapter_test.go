package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecideUniquenessConcurrent(t *testing.T) {
	adapter := NewMemoryDecideAdapter()
	var wg sync.WaitGroup
	wins := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var decider Address
			decider[0] = byte(i)
			_, won, err := adapter.TryDecide(DecideRecord{
				NeedID:     "need-1",
				ProposalID: "prop-x",
				DeciderID:  decider,
			})
			require.NoError(t, err)
			wins[i] = won
		}(i)
	}
	wg.Wait()

	winCount := 0
	for _, w := range wins {
		if w {
			winCount++
		}
	}
	require.Equal(t, 1, winCount)
}

func TestBoltDecideAdapterOverMemStore(t *testing.T) {
	adapter := NewBoltDecideAdapter(NewMemStateStore())
	rec1, won1, err := adapter.TryDecide(DecideRecord{NeedID: "n1", ProposalID: "p1"})
	require.NoError(t, err)
	require.True(t, won1)
	require.Equal(t, "p1", rec1.ProposalID)

	_, won2, err := adapter.TryDecide(DecideRecord{NeedID: "n1", ProposalID: "p2"})
	require.NoError(t, err)
	require.False(t, won2)

	got, ok, err := adapter.Get("n1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "p1", got.ProposalID)
}
