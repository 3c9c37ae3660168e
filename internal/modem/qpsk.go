package modem

import (
	"math"

	"github.com/doismellburning/athernet/internal/sample"
)

// QPSK is two-bits-per-symbol phase shift keying using two carrier
// frequencies (f and 2f) summed together, each independently 0/pi phase
// modulated by one of the two bits. Demodulation demuxes each bit by
// correlating against its own carrier's reference waveform.
type QPSK struct {
	samplesPerSymbol int
	symbolsPerPacket int
	refLo            []sample.Sample // carrier f, used for bit 0
	refHi            []sample.Sample // carrier 2f, used for bit 1
}

func NewQPSK(p Profile) *QPSK {
	carrierFreq, samplesPerSymbol, symbolsPerPacket := pskParams(p)

	dt := 1.0 / float64(sample.Rate)
	refLo := make([]sample.Sample, samplesPerSymbol)
	refHi := make([]sample.Sample, samplesPerSymbol)
	for i := range refLo {
		t := dt * float64(i)
		refLo[i] = math.Sin(2 * math.Pi * carrierFreq * t)
		refHi[i] = math.Sin(2 * math.Pi * carrierFreq * 2 * t)
	}

	return &QPSK{
		samplesPerSymbol: samplesPerSymbol,
		symbolsPerPacket: symbolsPerPacket,
		refLo:            refLo,
		refHi:            refHi,
	}
}

func (m *QPSK) BytesPerPacket() int   { return (m.symbolsPerPacket * 2) / 8 }
func (m *QPSK) SamplesPerPacket() int { return m.samplesPerSymbol * m.symbolsPerPacket }

func (m *QPSK) Modulate(data []byte) ([]sample.Sample, error) {
	if len(data) != m.BytesPerPacket() {
		return nil, ErrBadLength
	}

	bits := bytesToBits(data)
	out := make([]sample.Sample, 0, m.SamplesPerPacket())

	for i := 0; i < len(bits); i += 2 {
		bit0, bit1 := bits[i], bits[i+1]
		for s := range m.samplesPerSymbol {
			lo := m.refLo[s]
			if bit0 != 0 {
				lo = -lo
			}
			hi := m.refHi[s]
			if bit1 != 0 {
				hi = -hi
			}
			out = append(out, 0.5*(lo+hi))
		}
	}

	return out, nil
}

func (m *QPSK) Demodulate(samples []sample.Sample) ([]byte, error) {
	if len(samples) != m.SamplesPerPacket() {
		return nil, ErrBadLength
	}

	bits := make([]byte, 0, m.symbolsPerPacket*2)
	for i := 0; i < len(samples); i += m.samplesPerSymbol {
		symbol := samples[i : i+m.samplesPerSymbol]

		bit0 := byte(0)
		if dotProduct(symbol, m.refLo) < 0 {
			bit0 = 1
		}

		bit1 := byte(0)
		if dotProduct(symbol, m.refHi) < 0 {
			bit1 = 1
		}

		bits = append(bits, bit0, bit1)
	}

	return bitsToBytes(bits), nil
}
