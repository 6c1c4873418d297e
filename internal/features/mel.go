// Package features computes the spectral front ends consumed by the decoder
// prompt, the length targets and the speaker style embedder.
package features

import (
	"errors"
	"math"

	"github.com/up-zero/gotool/mediautil"
)

// MelParams describes a log-magnitude mel spectrogram without centering.
type MelParams struct {
	SampleRate int
	NFFT       int
	WinLength  int
	Hop        int
	Mels       int
}

// MelExtractor holds the precomputed window and filterbank for one MelParams.
type MelExtractor struct {
	params  MelParams
	window  []float64
	filters [][]float32
}

func NewMelExtractor(p MelParams) (*MelExtractor, error) {
	if p.SampleRate <= 0 || p.Hop <= 0 || p.Mels <= 0 || p.NFFT <= 0 {
		return nil, errors.New("mel params must be positive")
	}
	if p.WinLength <= 0 || p.WinLength > p.NFFT {
		return nil, errors.New("mel win_length must be in (0, n_fft]")
	}
	// The window is centered inside the FFT frame, matching torch.stft.
	window := make([]float64, p.NFFT)
	hann := mediautil.HannWindow(p.WinLength)
	offset := (p.NFFT - p.WinLength) / 2
	for i, w := range hann {
		window[offset+i] = float64(w)
	}
	return &MelExtractor{
		params:  p,
		window:  window,
		filters: mediautil.MelFilters(p.SampleRate, p.NFFT, p.Mels, 0, 0),
	}, nil
}

// Params returns the extractor configuration.
func (m *MelExtractor) Params() MelParams { return m.params }

// FrameCount returns the number of frames Extract yields for n samples.
func (m *MelExtractor) FrameCount(n int) int {
	pad := (m.params.NFFT - m.params.Hop) / 2
	padded := n + 2*pad
	if n == 0 || padded < m.params.NFFT {
		return 0
	}
	return (padded-m.params.NFFT)/m.params.Hop + 1
}

// Extract returns a time-major log mel spectrogram (frames x mels).
func (m *MelExtractor) Extract(samples []float32) [][]float32 {
	p := m.params
	pad := (p.NFFT - p.Hop) / 2
	padded := padReflect(samples, pad)
	frames := m.FrameCount(len(samples))
	out := make([][]float32, frames)
	buf := make([]complex128, p.NFFT)

	for i := 0; i < frames; i++ {
		start := i * p.Hop
		for j := 0; j < p.NFFT; j++ {
			buf[j] = complex(float64(padded[start+j])*m.window[j], 0)
		}
		spectrum := mediautil.FFT(buf)

		row := make([]float32, p.Mels)
		for k := 0; k < p.Mels; k++ {
			sum := 0.0
			for j := 0; j < p.NFFT/2+1; j++ {
				if w := m.filters[k][j]; w > 0 {
					r := real(spectrum[j])
					im := imag(spectrum[j])
					sum += math.Sqrt(r*r+im*im+1e-9) * float64(w)
				}
			}
			row[k] = float32(math.Log(math.Max(sum, 1e-5)))
		}
		out[i] = row
	}
	return out
}

// padReflect mirrors p samples on both sides; inputs too short to mirror are
// zero padded instead.
func padReflect(s []float32, p int) []float32 {
	n := len(s)
	res := make([]float32, n+2*p)
	copy(res[p:], s)
	if n <= p {
		return res
	}
	for i := 0; i < p; i++ {
		res[i] = s[p-i]
		res[n+p+i] = s[n-2-i]
	}
	return res
}
