// Package content extracts content representations from audio of any length
// using an encoder that only accepts a bounded context window.
package content

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-vc/internal/model"
)

// Config describes the encoder's native windowing.
type Config struct {
	SampleRate        int
	HopSamples        int
	MaxContextSeconds int
	OverlapSeconds    int
}

// Adapter slides the encoder over long buffers and stitches the per-window
// outputs into one continuous frame sequence.
type Adapter struct {
	encoder model.ContentEncoder
	cfg     Config
}

func NewAdapter(encoder model.ContentEncoder, cfg Config) (*Adapter, error) {
	if encoder == nil {
		return nil, fmt.Errorf("content encoder is nil")
	}
	if cfg.SampleRate <= 0 || cfg.HopSamples <= 0 {
		return nil, fmt.Errorf("invalid encoder rate %d / hop %d", cfg.SampleRate, cfg.HopSamples)
	}
	if cfg.OverlapSeconds < 0 || cfg.OverlapSeconds >= cfg.MaxContextSeconds {
		return nil, fmt.Errorf("overlap %ds must be shorter than context %ds", cfg.OverlapSeconds, cfg.MaxContextSeconds)
	}
	if (cfg.SampleRate*cfg.OverlapSeconds)%cfg.HopSamples != 0 || (cfg.SampleRate*cfg.MaxContextSeconds)%cfg.HopSamples != 0 {
		return nil, fmt.Errorf("encoder windows must be a multiple of hop %d", cfg.HopSamples)
	}
	return &Adapter{encoder: encoder, cfg: cfg}, nil
}

// FrameCount is the number of frames Extract returns for n samples.
func (a *Adapter) FrameCount(n int) int {
	return n/a.cfg.HopSamples + 1
}

// Extract returns FrameCount(len(samples)) content frames.
func (a *Adapter) Extract(ctx context.Context, samples []float32) ([][]float32, error) {
	window := a.cfg.SampleRate * a.cfg.MaxContextSeconds
	if len(samples) <= window {
		return a.encode(ctx, samples, a.FrameCount(len(samples)))
	}

	hop := a.cfg.HopSamples
	overlap := a.cfg.SampleRate * a.cfg.OverlapSeconds
	skip := overlap / hop
	out := make([][]float32, 0, a.FrameCount(len(samples)))
	var carry []float32
	pos := 0
	for pos < len(samples) {
		var chunk []float32
		if carry == nil {
			chunk = samples[pos:min(pos+window, len(samples))]
		} else {
			next := samples[pos:min(pos+window-overlap, len(samples))]
			chunk = make([]float32, 0, len(carry)+len(next))
			chunk = append(append(chunk, carry...), next...)
		}
		end := pos + len(chunk) - len(carry)
		final := end >= len(samples)

		// Chunk lengths of non-final windows are hop aligned, so their
		// trailing +1 frame is empty and reappears as the first new frame
		// of the next window.
		keep := len(chunk) / hop
		if final {
			keep++
		}
		frames, err := a.encode(ctx, chunk, keep)
		if err != nil {
			return nil, err
		}
		if carry != nil {
			frames = frames[min(skip, len(frames)):]
		}
		out = append(out, frames...)

		carry = chunk[len(chunk)-overlap:]
		pos = end
	}
	return out, nil
}

func (a *Adapter) encode(ctx context.Context, window []float32, frames int) ([][]float32, error) {
	out, err := a.encoder.Encode(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("encode window: %w", err)
	}
	if len(out) < frames {
		return nil, fmt.Errorf("encoder returned %d frames, need %d", len(out), frames)
	}
	return out[:frames], nil
}
