package ipmac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Reassembling the fragments of any datagram up to 4KB yields the
// original datagram bit-for-bit.
func TestFragmentationRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		macMTU := rapid.IntRange(8, 64).Draw(t, "macMTU")
		datagram := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "datagram")

		f := NewFragmenter(macMTU)
		r := NewReassembler()

		fragments := f.Fragment(datagram)

		var got []byte
		var done bool
		for _, frag := range fragments {
			got, done = r.Push(frag)
		}

		require.True(t, done)
		assert.Equal(t, datagram, got)
	})
}

func TestReassemblerDiscardsOverlongFragment(t *testing.T) {
	r := NewReassembler()
	bad := []byte{0x00, 0xFF, 1, 2} // claims 255 bytes, carries 2
	out, done := r.Push(bad)
	assert.False(t, done)
	assert.Nil(t, out)
}
