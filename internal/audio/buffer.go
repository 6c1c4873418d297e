// Package audio holds mono waveform buffers and the file, resampling and
// PCM conversions the conversion pipeline needs around them.
package audio

import "time"

// Buffer is a mono floating point waveform at a known sample rate.
// Buffers are treated as immutable once handed to another stage.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Len returns the number of samples.
func (b Buffer) Len() int { return len(b.Samples) }

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Clip returns the first maxSeconds of the buffer. The samples are shared.
func (b Buffer) Clip(maxSeconds int) Buffer {
	limit := maxSeconds * b.SampleRate
	if maxSeconds <= 0 || limit >= len(b.Samples) {
		return b
	}
	return Buffer{Samples: b.Samples[:limit], SampleRate: b.SampleRate}
}

// Concat joins segments in order into a freshly allocated slice.
func Concat(segments [][]float32) []float32 {
	total := 0
	for _, s := range segments {
		total += len(s)
	}
	out := make([]float32, 0, total)
	for _, s := range segments {
		out = append(out, s...)
	}
	return out
}
