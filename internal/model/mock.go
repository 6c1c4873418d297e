package model

import (
	"context"
	"math"
)

// The mock backend is deterministic and purely local: every output frame
// depends only on the input frames it is derived from. It stands in for the
// neural models in tests and in development mode.

const mockContentDims = 8

type mockEncoder struct {
	hop       int
	padFrames int
}

// NewMockEncoder emits one frame per hop samples plus one, padded with zero
// frames up to padFrames.
func NewMockEncoder(hop, padFrames int) ContentEncoder {
	return &mockEncoder{hop: hop, padFrames: padFrames}
}

func (m *mockEncoder) Encode(ctx context.Context, window []float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := len(window)/m.hop + 1
	out := make([][]float32, max(frames, m.padFrames))
	for i := range out {
		row := make([]float32, mockContentDims)
		if i < frames {
			start := i * m.hop
			end := min(start+m.hop, len(window))
			var mean float32
			if end > start {
				for _, s := range window[start:end] {
					mean += s
				}
				mean /= float32(end - start)
			}
			for d := range row {
				row[d] = mean * float32(d+1)
			}
		}
		out[i] = row
	}
	return out, nil
}

type mockPitch struct {
	hop  int
	rate int
}

// NewMockPitch estimates F0 from zero crossings per hop-sized frame and marks
// frames quieter than the threshold (RMS) as unvoiced.
func NewMockPitch(hop, rate int) PitchEstimator {
	return &mockPitch{hop: hop, rate: rate}
}

func (m *mockPitch) Estimate(ctx context.Context, samples []float32, threshold float64) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := len(samples) / m.hop
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		seg := samples[i*m.hop : (i+1)*m.hop]
		var energy float64
		crossings := 0
		for j, s := range seg {
			energy += float64(s) * float64(s)
			if j > 0 && (seg[j-1] < 0) != (s < 0) {
				crossings++
			}
		}
		if math.Sqrt(energy/float64(len(seg))) < threshold {
			continue
		}
		out[i] = float32(float64(crossings) / 2 * float64(m.rate) / float64(m.hop))
	}
	return out, nil
}

type mockStyle struct {
	dims int
}

// NewMockStyle averages fbank bins and tiles them to dims.
func NewMockStyle(dims int) StyleEmbedder {
	return &mockStyle{dims: dims}
}

func (m *mockStyle) Embed(ctx context.Context, fbank [][]float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, m.dims)
	if len(fbank) == 0 || len(fbank[0]) == 0 {
		return out, nil
	}
	bins := len(fbank[0])
	for _, row := range fbank {
		for d := range out {
			out[d] += row[d%bins]
		}
	}
	for d := range out {
		out[d] /= float32(len(fbank))
	}
	return out, nil
}

type mockRegulator struct{}

// NewMockRegulator stretches content to the target length by nearest frame
// and appends log F0 as an extra column when a curve is given.
func NewMockRegulator() LengthRegulator { return mockRegulator{} }

func (mockRegulator) Regulate(ctx context.Context, content [][]float32, targetLen int, f0 []float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, targetLen)
	for i := range out {
		var row []float32
		if len(content) > 0 {
			row = append(row, content[i*len(content)/targetLen]...)
		}
		if len(f0) > 0 {
			row = append(row, float32(math.Log(float64(f0[i*len(f0)/targetLen])+1)))
		}
		out[i] = row
	}
	return out, nil
}

type mockDecoder struct {
	mels int
}

// NewMockDecoder emits one mel frame per condition frame, each filled with
// the condition frame mean shifted by the style mean.
func NewMockDecoder(mels int) Decoder {
	return &mockDecoder{mels: mels}
}

func (m *mockDecoder) Decode(ctx context.Context, req DecodeRequest) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var style float32
	for _, v := range req.Style {
		style += v
	}
	if len(req.Style) > 0 {
		style /= float32(len(req.Style))
	}
	out := make([][]float32, len(req.Condition))
	for i, cond := range req.Condition {
		var mean float32
		for _, v := range cond {
			mean += v
		}
		if len(cond) > 0 {
			mean /= float32(len(cond))
		}
		row := make([]float32, m.mels)
		for k := range row {
			row[k] = mean + 0.01*style
		}
		out[i] = row
	}
	return out, nil
}

type mockVocoder struct {
	hop int
}

// NewMockVocoder renders hop samples per frame at 0.5*tanh(frame mean).
func NewMockVocoder(hop int) Vocoder {
	return &mockVocoder{hop: hop}
}

func (m *mockVocoder) Vocode(ctx context.Context, mel [][]float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, 0, len(mel)*m.hop)
	for _, frame := range mel {
		var mean float64
		for _, v := range frame {
			mean += float64(v)
		}
		if len(frame) > 0 {
			mean /= float64(len(frame))
		}
		v := float32(0.5 * math.Tanh(mean))
		for j := 0; j < m.hop; j++ {
			out = append(out, v)
		}
	}
	return out, nil
}
