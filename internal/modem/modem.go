// Package modem implements the bytes<->samples modulation schemes: PSK,
// 4-PSK, a 4b5b/NRZI line code, and OFDM+BPSK. Every variant satisfies the
// same Modem contract so the PHY layer is written once against the
// interface.
package modem

import (
	"errors"

	"github.com/doismellburning/athernet/internal/sample"
)

// ErrBadLength is returned when modulate/demodulate is handed a slice of
// the wrong length. This is a programming error, not a runtime condition
// to recover from.
var ErrBadLength = errors.New("modem: input length does not match the modem's fixed packet size")

// Modem converts between a fixed-size byte packet and a fixed-size sample
// block. Implementations are not required to be safe for concurrent use by
// multiple goroutines; the PHY layer serializes access per direction.
type Modem interface {
	// BytesPerPacket is the number of bytes Modulate expects and
	// Demodulate produces.
	BytesPerPacket() int
	// SamplesPerPacket is the number of samples Modulate produces and
	// Demodulate expects.
	SamplesPerPacket() int
	// Modulate converts exactly BytesPerPacket() bytes into exactly
	// SamplesPerPacket() samples.
	Modulate(data []byte) ([]sample.Sample, error)
	// Demodulate converts exactly SamplesPerPacket() samples back into
	// exactly BytesPerPacket() bytes.
	Demodulate(samples []sample.Sample) ([]byte, error)
}

func bytesToBits(data []byte) []byte {
	bits := make([]byte, 0, len(data)*8)
	for _, b := range data {
		for i := range 8 {
			bits = append(bits, (b>>uint(i))&1)
		}
	}
	return bits
}

func bitsToBytes(bits []byte) []byte {
	out := make([]byte, len(bits)/8)
	for i := range out {
		var b byte
		chunk := bits[i*8 : i*8+8]
		for j := len(chunk) - 1; j >= 0; j-- {
			b = (b << 1) | chunk[j]
		}
		out[i] = b
	}
	return out
}
