package modem

import (
	"math"
	"math/cmplx"

	"github.com/doismellburning/athernet/internal/sample"
)

// OFDM is orthogonal frequency-division multiplexing with BPSK on each
// used subcarrier. Bits modulate the phase (0 or pi) of a contiguous block
// of frequency bins starting at bin index start; a leading training symbol
// carries the same all-zero-bit pattern so the receiver can measure and
// subtract the channel's phase rotation before decoding the data symbols.
type OFDM struct {
	n             int // IFFT/FFT size
	cyclicPrefix  int // samples of cyclic prefix per symbol
	start         int // first data-carrying bin
	bitsPerSymbol int // bins used per symbol == bits per symbol (BPSK)
	dataSymbols   int // number of data-carrying OFDM symbols per packet
	unit          float64
}

// NewOFDM builds the OFDM modem with the standard parameter set: 64-point
// transform, 8-sample cyclic prefix, 3 data bins starting at bin 7, 24
// data symbols (one training symbol precedes them), for 9 bytes (72 bits)
// per packet.
func NewOFDM() *OFDM {
	return &OFDM{
		n:             64,
		cyclicPrefix: 8,
		start:         7,
		bitsPerSymbol: 3,
		dataSymbols:   24,
		unit:          0.25,
	}
}

func (m *OFDM) BytesPerPacket() int { return m.bitsPerSymbol * m.dataSymbols / 8 }

func (m *OFDM) samplesPerSymbol() int { return m.n + m.cyclicPrefix }

func (m *OFDM) SamplesPerPacket() int {
	return (m.dataSymbols + 1) * m.samplesPerSymbol()
}

func (m *OFDM) Modulate(data []byte) ([]sample.Sample, error) {
	if len(data) != m.BytesPerPacket() {
		return nil, ErrBadLength
	}

	trainingBits := make([]byte, m.bitsPerSymbol)
	bits := append(trainingBits, bytesToBits(data)...)

	out := make([]sample.Sample, 0, m.SamplesPerPacket())
	for i := 0; i < len(bits); i += m.bitsPerSymbol {
		out = append(out, m.encodeSymbol(bits[i:i+m.bitsPerSymbol])...)
	}

	return out, nil
}

func (m *OFDM) encodeSymbol(bits []byte) []sample.Sample {
	freq := make([]complex128, m.n)
	for i, bit := range bits {
		v := complex(m.unit, 0)
		if bit != 0 {
			v = -v
		}
		freq[m.start+i] = v
	}

	td := idft(freq)

	symbol := make([]sample.Sample, m.samplesPerSymbol())
	for i := range m.cyclicPrefix {
		symbol[i] = real(td[m.n-m.cyclicPrefix+i])
	}
	for i := range m.n {
		symbol[m.cyclicPrefix+i] = real(td[i])
	}

	return symbol
}

func (m *OFDM) Demodulate(samples []sample.Sample) ([]byte, error) {
	if len(samples) != m.SamplesPerPacket() {
		return nil, ErrBadLength
	}

	sps := m.samplesPerSymbol()
	trainArg := m.trainPhase(samples[:sps])

	bits := make([]byte, 0, m.bitsPerSymbol*m.dataSymbols)
	for i := sps; i < len(samples); i += sps {
		bits = append(bits, m.decodeSymbol(samples[i:i+sps], trainArg)...)
	}

	return bitsToBytes(bits), nil
}

func (m *OFDM) binsOf(symbol []sample.Sample) []complex128 {
	td := make([]complex128, m.n)
	for i := range td {
		td[i] = complex(symbol[m.cyclicPrefix+i], 0)
	}
	return dft(td)
}

func (m *OFDM) trainPhase(trainingSymbol []sample.Sample) []float64 {
	freq := m.binsOf(trainingSymbol)

	arg := make([]float64, m.bitsPerSymbol)
	for i := range arg {
		arg[i] = cmplx.Phase(freq[m.start+i])
	}

	return arg
}

func (m *OFDM) decodeSymbol(symbol []sample.Sample, trainArg []float64) []byte {
	freq := m.binsOf(symbol)

	bits := make([]byte, m.bitsPerSymbol)
	for i := range bits {
		corrected := freq[m.start+i] * cmplx.Exp(complex(0, -trainArg[i]))
		if real(corrected) > 0 {
			bits[i] = 0
		} else {
			bits[i] = 1
		}
	}

	return bits
}

// dft/idft are unnormalized direct-sum transforms (no 1/N factor on
// either direction, matching the convention of most FFT libraries): a
// round trip through idft then dft scales the signal by a positive real
// N, which preserves the sign tests decodeSymbol relies on.

func dft(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)

	for k := range n {
		var sum complex128
		for t, xt := range x {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			sum += xt * cmplx.Exp(complex(0, angle))
		}
		out[k] = sum
	}

	return out
}

func idft(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)

	for t := range n {
		var sum complex128
		for k, xk := range x {
			angle := 2 * math.Pi * float64(k) * float64(t) / float64(n)
			sum += xk * cmplx.Exp(complex(0, angle))
		}
		out[t] = sum
	}

	return out
}
