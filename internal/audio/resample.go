package audio

import (
	"fmt"

	"github.com/up-zero/gotool/mediautil"
)

const (
	wavHeaderSize = 44
	resampleBits  = 16
)

// Resample converts buf to rate. Buffers already at rate are copied.
func Resample(buf Buffer, rate int) (Buffer, error) {
	if rate <= 0 {
		return Buffer{}, fmt.Errorf("invalid target sample rate %d", rate)
	}
	if buf.SampleRate == rate || len(buf.Samples) == 0 {
		return Buffer{Samples: append([]float32(nil), buf.Samples...), SampleRate: rate}, nil
	}
	if buf.SampleRate <= 0 {
		return Buffer{}, fmt.Errorf("invalid source sample rate %d", buf.SampleRate)
	}

	wavBytes, err := mediautil.Float32ToWavBytes(buf.Samples, buf.SampleRate, 1, resampleBits)
	if err != nil {
		return Buffer{}, fmt.Errorf("encode wav for resampling: %w", err)
	}
	converted, err := mediautil.ReformatWavBytes(wavBytes, rate, 1, resampleBits)
	if err != nil {
		return Buffer{}, fmt.Errorf("resample %d -> %d: %w", buf.SampleRate, rate, err)
	}
	if len(converted) < wavHeaderSize {
		return Buffer{}, fmt.Errorf("resampled wav truncated (%d bytes)", len(converted))
	}
	samples, err := mediautil.PcmBytesToFloat32(converted[wavHeaderSize:], resampleBits)
	if err != nil {
		return Buffer{}, fmt.Errorf("decode resampled pcm: %w", err)
	}
	return Buffer{Samples: samples, SampleRate: rate}, nil
}
