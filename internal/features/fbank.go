package features

import (
	"math"
	"sync"

	"github.com/up-zero/gotool/mediautil"
)

const (
	fbankSampleRate = 16000
	fbankFrameLen   = 400 // 25ms @ 16kHz
	fbankShift      = 160 // 10ms @ 16kHz
	fbankFFT        = 512
	// FbankBins is the filterbank size the style embedder expects.
	FbankBins = 80
)

var (
	fbankOnce    sync.Once
	fbankWindow  []float32
	fbankFilters [][]float32
)

// Fbank computes 80-bin log mel filterbank energies from 16 kHz audio with
// the per-bin mean removed.
func Fbank(samples []float32) [][]float32 {
	fbankOnce.Do(func() {
		fbankWindow = mediautil.HammingWindow(fbankFrameLen)
		fbankFilters = mediautil.MelFilters(fbankSampleRate, fbankFFT, FbankBins, 0, 0)
	})

	if len(samples) < fbankFrameLen {
		return nil
	}
	emphasized := mediautil.PreEmphasis(samples, 0.97)
	numFrames := (len(emphasized)-fbankFrameLen)/fbankShift + 1

	features := make([][]float32, numFrames)
	buf := make([]complex128, fbankFFT)
	mean := make([]float64, FbankBins)

	for i := 0; i < numFrames; i++ {
		start := i * fbankShift
		for j := 0; j < fbankFFT; j++ {
			if j < fbankFrameLen {
				buf[j] = complex(float64(emphasized[start+j]*fbankWindow[j]), 0)
			} else {
				buf[j] = 0
			}
		}
		spectrum := mediautil.FFT(buf)

		row := make([]float32, FbankBins)
		for k := 0; k < FbankBins; k++ {
			sum := 0.0
			for j := 0; j < fbankFFT/2+1; j++ {
				if w := fbankFilters[k][j]; w > 0 {
					r := real(spectrum[j])
					im := imag(spectrum[j])
					sum += (r*r + im*im) * float64(w)
				}
			}
			if sum < 1e-7 {
				sum = 1e-7
			}
			row[k] = float32(math.Log(sum))
			mean[k] += float64(row[k])
		}
		features[i] = row
	}

	for k := range mean {
		mean[k] /= float64(numFrames)
	}
	for _, row := range features {
		for k := range row {
			row[k] -= float32(mean[k])
		}
	}
	return features
}
