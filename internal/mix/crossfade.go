// Package mix blends overlapping waveform segments.
package mix

import "math"

// Crossfade blends the last overlap samples of prev with the head of next
// using equal-power weights, cos²(t) for prev and cos²(π/2−t) for next, with
// t spaced linearly over [0, π/2]. The result replaces next's leading
// samples, so it has min(overlap, len(next)) samples. Missing prev samples
// are treated as silence.
func Crossfade(prev, next []float32, overlap int) []float32 {
	n := min(overlap, len(next))
	if n <= 0 {
		return nil
	}
	fadeOut, fadeIn := weights(overlap)
	tail := prev[max(len(prev)-overlap, 0):]
	// Align prev's tail so its last sample meets weight index overlap-1.
	offset := overlap - len(tail)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var p float64
		if j := i - offset; j >= 0 && j < len(tail) {
			p = float64(tail[j])
		}
		out[i] = float32(p*fadeOut[i] + float64(next[i])*fadeIn[i])
	}
	return out
}

// weights returns the fade-out and fade-in curves for n samples.
func weights(n int) ([]float64, []float64) {
	fadeOut := make([]float64, n)
	fadeIn := make([]float64, n)
	for i := 0; i < n; i++ {
		t := 0.0
		if n > 1 {
			t = float64(i) * (math.Pi / 2) / float64(n-1)
		}
		c := math.Cos(t)
		s := math.Cos(math.Pi/2 - t)
		fadeOut[i] = c * c
		fadeIn[i] = s * s
	}
	return fadeOut, fadeIn
}
