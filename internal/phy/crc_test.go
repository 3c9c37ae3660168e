package phy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCRC16RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "data")

		packet := CRC16{}.Pack(data)
		got, ok := CRC16{}.Unpack(packet)
		require.True(t, ok)
		assert.Equal(t, data, got)
	})
}

func TestCRC16DetectsSingleBitFlip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "data")
		bitIdx := rapid.IntRange(0, len(data)*8-1).Draw(t, "bit")

		packet := CRC16{}.Pack(data)
		packet[bitIdx/8] ^= 1 << uint(bitIdx%8)

		_, ok := CRC16{}.Unpack(packet)
		assert.False(t, ok)
	})
}

func TestSeqCRCRoundTrip(t *testing.T) {
	const packetSize = 32
	c := NewSeqCRC(packetSize)

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), c.DataSize(), c.DataSize()).Draw(t, "data")
		seq := byte(rapid.IntRange(0, SeqMod-1).Draw(t, "seq"))

		packet := c.Pack(data, seq)
		gotData, gotSeq, ok := c.Unpack(packet)
		require.True(t, ok)
		assert.Equal(t, data, gotData)
		assert.Equal(t, seq, gotSeq)
	})
}

func TestSeqCRCDetectsSingleBitFlip(t *testing.T) {
	const packetSize = 32
	c := NewSeqCRC(packetSize)

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), c.DataSize(), c.DataSize()).Draw(t, "data")
		seq := byte(rapid.IntRange(0, SeqMod-1).Draw(t, "seq"))
		bitIdx := rapid.IntRange(0, packetSize*8-1).Draw(t, "bit")

		packet := c.Pack(data, seq)
		packet[bitIdx/8] ^= 1 << uint(bitIdx%8)

		_, _, ok := c.Unpack(packet)
		assert.False(t, ok)
	})
}
