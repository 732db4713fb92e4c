package portalloc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAvailablePortSkipsBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	bound := ln.Addr().(*net.TCPAddr).Port
	if bound >= MaxPort-1 {
		t.Skipf("kernel picked port %d at the top of the range", bound)
	}

	got, err := FindAvailablePort(bound)
	require.NoError(t, err)
	assert.Greater(t, got, bound)
	assert.False(t, IsAvailable(bound))
}

func TestFindAvailablePortExhausted(t *testing.T) {
	_, err := FindAvailablePort(MaxPort)
	require.ErrorIs(t, err, ErrNoPortAvailable)
}

func TestAllocatePairDistinctAndInRange(t *testing.T) {
	a := NewAllocator()

	seen := make(map[int]bool)
	var pairs []Pair
	for range 20 {
		p, err := a.AllocatePair()
		require.NoError(t, err)

		assert.NotEqual(t, p.SOCKS, p.HTTP)
		for _, port := range []int{p.SOCKS, p.HTTP} {
			assert.GreaterOrEqual(t, port, MinPort)
			assert.Less(t, port, MaxPort)
			assert.False(t, seen[port], "port %d handed out twice", port)
			seen[port] = true
		}
		pairs = append(pairs, p)
	}
	assert.Equal(t, 40, a.Reserved())

	for _, p := range pairs {
		a.Release(p)
	}
	assert.Equal(t, 0, a.Reserved())
}

func TestAllocatePairSameStartOffsets(t *testing.T) {
	a := NewAllocator()
	// Force both searches to start as low as possible so the reservation set
	// is what keeps consecutive pairs apart.
	a.intN = func(int) int { return 0 }

	first, err := a.AllocatePair()
	require.NoError(t, err)
	second, err := a.AllocatePair()
	require.NoError(t, err)

	assert.NotEqual(t, first.SOCKS, second.SOCKS)
	assert.NotEqual(t, first.HTTP, second.HTTP)
	assert.NotEqual(t, second.SOCKS, second.HTTP)
}

func TestAllocatePairSocksScanReachesHTTPWindow(t *testing.T) {
	// Occupy the last port of the socks window so the socks scan continues
	// into the first port of the http window, where the http scan starts.
	if ln, err := net.Listen("tcp", "127.0.0.1:20000"); err == nil {
		defer ln.Close()
	}

	a := NewAllocator()
	calls := 0
	a.intN = func(n int) int {
		calls++
		if calls == 1 {
			return n - 1
		}
		return 0
	}

	p, err := a.AllocatePair()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.SOCKS, httpWindowStart)
	assert.Greater(t, p.HTTP, p.SOCKS)
	assert.Equal(t, 2, a.Reserved())
}
