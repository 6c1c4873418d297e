// Package model declares the neural collaborators the conversion core drives
// and provides interchangeable backends for them.
package model

import (
	"context"
	"errors"
)

// ContentEncoder turns one window of 16 kHz audio into content frames
// (frames x dims). Output may carry trailing padding frames.
type ContentEncoder interface {
	Encode(ctx context.Context, window []float32) ([][]float32, error)
}

// PitchEstimator returns a per-frame F0 curve; values <= 1 mark unvoiced frames.
type PitchEstimator interface {
	Estimate(ctx context.Context, samples []float32, threshold float64) ([]float32, error)
}

// StyleEmbedder maps fbank features of the reference to a speaker vector.
type StyleEmbedder interface {
	Embed(ctx context.Context, fbank [][]float32) ([]float32, error)
}

// LengthRegulator aligns content frames (and optional F0) to targetLen
// conditioning frames.
type LengthRegulator interface {
	Regulate(ctx context.Context, content [][]float32, targetLen int, f0 []float32) ([][]float32, error)
}

// DecodeRequest is one bounded-context decoder invocation. Condition holds
// the prompt conditioning followed by the chunk conditioning.
type DecodeRequest struct {
	Condition [][]float32
	PromptMel [][]float32
	Style     []float32
	Steps     int
	CFGRate   float64
}

// Decoder generates acoustic frames for a DecodeRequest. Implementations
// return exactly len(Condition) frames, the first len(PromptMel) of which
// cover the prompt.
type Decoder interface {
	Decode(ctx context.Context, req DecodeRequest) ([][]float32, error)
}

// Vocoder synthesizes a waveform from acoustic frames.
type Vocoder interface {
	Vocode(ctx context.Context, mel [][]float32) ([]float32, error)
}

// Profile is the decoder side of one model configuration.
type Profile struct {
	Name      string
	Regulator LengthRegulator
	Decoder   Decoder
	Vocoder   Vocoder
}

// Set bundles every collaborator a conversion needs.
type Set struct {
	Encoder ContentEncoder
	Pitch   PitchEstimator
	Style   StyleEmbedder
	Plain   Profile
	F0      Profile

	closers []func() error
}

// Close releases backend resources.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Profile returns the F0-conditioned profile when f0 is set.
func (s *Set) Profile(f0 bool) Profile {
	if f0 {
		return s.F0
	}
	return s.Plain
}
