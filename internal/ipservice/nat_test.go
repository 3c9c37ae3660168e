package ipservice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// For any set of distinct Athernet-side flows, each gets a distinct external
// port, and reversing that port recovers the original flow exactly
// (spec.md §8 item 8: NAT bijectivity).
func TestNatTableBijectivity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")

		table := NewNatTable()
		externals := map[uint16]flowKey{}

		for i := 0; i < n; i++ {
			addr := net.IPv4(192, 168, 1, byte(1+i%250))
			port := uint16(1000 + i)

			external := table.Allocate(addr, port)

			if prior, seen := externals[external]; seen {
				require.Equal(t, flowKey{addr: addr.String(), port: port}, prior,
					"external port %d reused for a different flow", external)
			}
			externals[external] = flowKey{addr: addr.String(), port: port}

			gotAddr, gotPort, ok := table.Reverse(external)
			require.True(t, ok)
			assert.True(t, gotAddr.Equal(addr))
			assert.Equal(t, port, gotPort)
		}
	})
}

// Allocating the same flow twice returns the same external port both times.
func TestNatTableAllocateIsIdempotentPerFlow(t *testing.T) {
	table := NewNatTable()
	addr := net.IPv4(192, 168, 1, 2)

	first := table.Allocate(addr, 3120)
	second := table.Allocate(addr, 3120)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, table.Len())
}

func TestNatTableReverseUnknownPortFails(t *testing.T) {
	table := NewNatTable()
	_, _, ok := table.Reverse(12345)
	assert.False(t, ok)
}
