package tcpstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// Unwrapping what WrapSeq produced, with the true absolute value itself as
// the checkpoint, recovers the original absolute sequence number exactly.
func TestWrappingInt32RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		isn := NewWrappingInt32(rapid.Uint32().Draw(t, "isn"))
		absolute := rapid.Uint64Range(0, 1<<40).Draw(t, "absolute")

		wrapped := WrapSeq(absolute, isn)
		got := UnwrapSeq(wrapped, isn, absolute)

		assert.Equal(t, absolute, got)
	})
}

func TestWrappingInt32AddSubRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := NewWrappingInt32(rapid.Uint32().Draw(t, "start"))
		delta := rapid.Uint32Range(0, 1<<20).Draw(t, "delta")

		assert.Equal(t, start, start.Add(delta).Sub(delta))
		assert.Equal(t, int32(delta), start.Add(delta).Diff(start))
	})
}
