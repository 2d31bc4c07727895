package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDynamicKFormula(t *testing.T) {
	mgr := NewBootstrapManager(10, 5)
	for active := 1; active <= 50; active++ {
		k := mgr.KPlan(active)
		if active < 10 {
			require.Equal(t, 1, k, "active=%d", active)
			continue
		}
		want := active * 3 / 10
		if want < 2 {
			want = 2
		}
		if want > 5 {
			want = 5
		}
		require.Equal(t, want, k, "active=%d", active)
	}
}

func TestBootstrapExit(t *testing.T) {
	mgr := NewBootstrapManager(10, 5)
	mon := NewBootstrapMonitor(mgr, 24)

	require.True(t, mgr.IsBootstrap(3))
	require.Equal(t, 1, mgr.KPlan(3))

	for i := 0; i < 24; i++ {
		mon.Tick(12)
		if i < 23 {
			require.False(t, mon.ShouldExitBootstrap(12))
		}
	}
	require.True(t, mon.ShouldExitBootstrap(12))
	require.Equal(t, 3, mgr.KPlan(12))
}

func TestBootstrapMonitorResetsOnDip(t *testing.T) {
	mgr := NewBootstrapManager(10, 5)
	mon := NewBootstrapMonitor(mgr, 24)
	for i := 0; i < 10; i++ {
		mon.Tick(15)
	}
	mon.Tick(5)
	require.Equal(t, 0, mon.HoursAbove())
}
