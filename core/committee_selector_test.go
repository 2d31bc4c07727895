package core

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedPool(n int) *VerifierPool {
	pool := NewVerifierPool()
	orgs := []string{"org-a", "org-b", "org-c", "org-d"}
	for i := 0; i < n; i++ {
		var id Address
		id[0] = byte(i)
		id[1] = byte(i >> 8)
		pool.Register(VerifierManifest{
			VerifierID:     id,
			Stake:          100 + float64(i),
			OrgID:          orgs[i%len(orgs)],
			ASN:            fmt.Sprintf("asn-%d", i%3),
			Region:         fmt.Sprintf("region-%d", i%2),
			RegisteredAtNs: time.Now().Add(-time.Duration(i) * time.Hour).UnixNano(),
			Active:         true,
		})
	}
	return pool
}

func TestDiversityCaps(t *testing.T) {
	pool := seedPool(30)
	rep := NewReputationTracker()
	sel := NewCommitteeSelector(pool, rep, rand.New(rand.NewSource(1)))

	caps := DiversityCaps{MaxOrgFrac: 0.30, MaxASNFrac: 0.40, MaxRegionFrac: 0.50}
	const k = 5
	chosen, err := sel.Select(k, 0, caps)
	require.NoError(t, err)
	require.Len(t, chosen, k)

	orgCount := map[string]int{}
	asnCount := map[string]int{}
	regionCount := map[string]int{}
	for _, m := range chosen {
		orgCount[m.OrgID]++
		asnCount[m.ASN]++
		regionCount[m.Region]++
	}
	for _, c := range orgCount {
		require.LessOrEqual(t, c, 2) // ceil(5*0.30)
	}
	for _, c := range asnCount {
		require.LessOrEqual(t, c, 2) // ceil(5*0.40)
	}
	for _, c := range regionCount {
		require.LessOrEqual(t, c, 3) // ceil(5*0.50)
	}
}

func TestSelectInsufficientVerifiers(t *testing.T) {
	pool := seedPool(2)
	rep := NewReputationTracker()
	sel := NewCommitteeSelector(pool, rep, rand.New(rand.NewSource(1)))
	_, err := sel.Select(5, 0, DiversityCaps{})
	require.ErrorIs(t, err, ErrInsufficientVerifiers)
}
