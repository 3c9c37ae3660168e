package modem

import (
	"math"

	"github.com/doismellburning/athernet/internal/sample"
)

// Profile selects the acoustic-vs-wired parameter set a PSK-family modem
// uses. Acoustic channels need a slower symbol rate and lower carrier
// frequency to survive speaker/microphone bandwidth and ambient noise;
// wired loopback can run much faster.
type Profile int

const (
	ProfileAcoustic Profile = iota
	ProfileWired
)

// PSK is one-bit-per-symbol phase shift keying: a fixed-frequency carrier,
// 0/pi phase encodes a 0/1 bit. Demodulation correlates the received
// symbol against the reference zero-bit waveform; the sign of the result
// is the bit.
type PSK struct {
	samplesPerSymbol int
	symbolsPerPacket int
	zero             []sample.Sample
}

// NewPSK builds a PSK modem for the given channel profile.
func NewPSK(p Profile) *PSK {
	carrierFreq, samplesPerSymbol, symbolsPerPacket := pskParams(p)

	dt := 1.0 / float64(sample.Rate)
	zero := make([]sample.Sample, samplesPerSymbol)
	for i := range zero {
		t := dt * float64(i)
		zero[i] = math.Sin(2 * math.Pi * carrierFreq * t)
	}

	return &PSK{
		samplesPerSymbol: samplesPerSymbol,
		symbolsPerPacket: symbolsPerPacket,
		zero:             zero,
	}
}

func pskParams(p Profile) (carrierFreq float64, samplesPerSymbol, symbolsPerPacket int) {
	if p == ProfileWired {
		return 8000.0, 6, 400
	}
	return 4800.0, 40, 80
}

func (m *PSK) BytesPerPacket() int     { return m.symbolsPerPacket / 8 }
func (m *PSK) SamplesPerPacket() int   { return m.samplesPerSymbol * m.symbolsPerPacket }

func (m *PSK) Modulate(data []byte) ([]sample.Sample, error) {
	if len(data) != m.BytesPerPacket() {
		return nil, ErrBadLength
	}

	out := make([]sample.Sample, 0, m.SamplesPerPacket())
	for _, bit := range bytesToBits(data) {
		if bit == 0 {
			out = append(out, m.zero...)
		} else {
			for _, v := range m.zero {
				out = append(out, -v)
			}
		}
	}

	return out, nil
}

func (m *PSK) Demodulate(samples []sample.Sample) ([]byte, error) {
	if len(samples) != m.SamplesPerPacket() {
		return nil, ErrBadLength
	}

	bits := make([]byte, 0, m.symbolsPerPacket)
	for i := 0; i < len(samples); i += m.samplesPerSymbol {
		symbol := samples[i : i+m.samplesPerSymbol]
		sum := dotProduct(symbol, m.zero)
		if sum < 0 {
			bits = append(bits, 1)
		} else {
			bits = append(bits, 0)
		}
	}

	return bitsToBytes(bits), nil
}

func dotProduct(a, b []sample.Sample) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
