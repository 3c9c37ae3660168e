package modem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/doismellburning/athernet/internal/sample"
)

func allModems() map[string]Modem {
	return map[string]Modem{
		"psk-acoustic":  NewPSK(ProfileAcoustic),
		"psk-wired":     NewPSK(ProfileWired),
		"qpsk-acoustic": NewQPSK(ProfileAcoustic),
		"qpsk-wired":    NewQPSK(ProfileWired),
		"linecode":      NewLineCode(),
		"ofdm":          NewOFDM(),
	}
}

func randomBytes(t *rapid.T, n int) []byte {
	return rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "data")
}

// Every modem must reproduce its input bytes exactly when the channel is
// noiseless: this is the baseline round-trip property every modulation
// scheme promises.
func TestModemRoundTrip(t *testing.T) {
	for name, m := range allModems() {
		t.Run(name, func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				data := randomBytes(t, m.BytesPerPacket())

				samples, err := m.Modulate(data)
				require.NoError(t, err)
				require.Len(t, samples, m.SamplesPerPacket())

				got, err := m.Demodulate(samples)
				require.NoError(t, err)
				assert.Equal(t, data, got)
			})
		})
	}
}

func TestModemRejectsBadLength(t *testing.T) {
	for name, m := range allModems() {
		t.Run(name, func(t *testing.T) {
			_, err := m.Modulate(make([]byte, m.BytesPerPacket()+1))
			assert.ErrorIs(t, err, ErrBadLength)

			_, err = m.Demodulate(make([]sample.Sample, m.SamplesPerPacket()+1))
			assert.ErrorIs(t, err, ErrBadLength)
		})
	}
}

// A modulation scheme that can't tolerate any noise at all is useless over
// a real channel; each modem should still decode correctly under small
// additive perturbations well below its symbol amplitude.
func TestModemToleratesSmallNoise(t *testing.T) {
	for name, m := range allModems() {
		t.Run(name, func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				data := randomBytes(t, m.BytesPerPacket())

				samples, err := m.Modulate(data)
				require.NoError(t, err)

				noise := rapid.SliceOfN(rapid.Float64Range(-0.01, 0.01), len(samples), len(samples)).Draw(t, "noise")
				noisy := make([]sample.Sample, len(samples))
				for i := range noisy {
					noisy[i] = samples[i] + noise[i]
				}

				got, err := m.Demodulate(noisy)
				require.NoError(t, err)
				assert.Equal(t, data, got)
			})
		})
	}
}
