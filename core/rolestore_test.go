package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testAddr(b byte) Address {
	var a Address
	a[0] = b
	return a
}

func TestRoleStoreCaching(t *testing.T) {
	rs := NewRoleStore(NewMemStateStore())
	addr := testAddr(1)

	require.NoError(t, rs.GrantRole(addr, "verifier"))
	require.True(t, rs.HasRole(addr, "verifier"))
	require.False(t, rs.HasRole(addr, "worker"))

	roles, err := rs.ListRoles(addr)
	require.NoError(t, err)
	require.Equal(t, []string{"verifier"}, roles)

	require.Error(t, rs.GrantRole(addr, "verifier"))
	require.NoError(t, rs.RevokeRole(addr, "verifier"))
	require.False(t, rs.HasRole(addr, "verifier"))
	require.Error(t, rs.RevokeRole(addr, "verifier"))
}

func BenchmarkRoleStoreHasRole(b *testing.B) {
	rs := NewRoleStore(NewMemStateStore())
	addr := testAddr(7)
	require.NoError(b, rs.GrantRole(addr, "verifier"))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rs.HasRole(addr, "verifier")
	}
}

func TestRoleStoreConcurrent(t *testing.T) {
	rs := NewRoleStore(NewMemStateStore())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := testAddr(byte(i))
			role := fmt.Sprintf("role-%d", i%5)
			_ = rs.GrantRole(addr, role)
			rs.HasRole(addr, role)
			_, _ = rs.ListRoles(addr)
		}(i)
	}
	wg.Wait()
}
