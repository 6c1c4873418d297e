package model

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-vc/internal/config"
)

// ErrONNXUnavailable indicates the ONNX backend is not compiled in.
var ErrONNXUnavailable = errors.New("model: onnx backend not available (build without -tags onnx)")

// Layout carries the frame geometry the mock backend imitates.
type Layout struct {
	EncoderHop       int
	EncoderPadFrames int
	PitchHop         int
	PitchRate        int
	StyleDims        int
	Plain            config.ProfileConfig
	F0               config.ProfileConfig
}

// LayoutFromConfig derives the mock geometry from the conversion settings.
func LayoutFromConfig(cfg config.Config) Layout {
	c := cfg.Conversion
	return Layout{
		EncoderHop:       c.EncoderHop,
		EncoderPadFrames: c.EncoderContextSeconds * c.EncoderSampleRate / c.EncoderHop,
		PitchHop:         c.EncoderSampleRate / 100,
		PitchRate:        c.EncoderSampleRate,
		StyleDims:        192,
		Plain:            cfg.Profiles.Plain,
		F0:               cfg.Profiles.F0,
	}
}

// NewSet builds the collaborators for the configured backend.
func NewSet(cfg config.ModelsConfig, layout Layout) (*Set, error) {
	switch cfg.Backend {
	case "", "mock":
		return NewMockSet(layout), nil
	case "exec":
		backend, err := NewExecBackend(cfg.Command)
		if err != nil {
			return nil, err
		}
		return &Set{
			Encoder: backend,
			Pitch:   backend,
			Style:   backend,
			Plain:   backend.Profile("plain"),
			F0:      backend.Profile("f0"),
		}, nil
	case "onnx":
		return newONNXSet(cfg)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// NewMockSet returns a deterministic in-process collaborator set.
func NewMockSet(layout Layout) *Set {
	return &Set{
		Encoder: NewMockEncoder(layout.EncoderHop, layout.EncoderPadFrames),
		Pitch:   NewMockPitch(layout.PitchHop, layout.PitchRate),
		Style:   NewMockStyle(layout.StyleDims),
		Plain: Profile{
			Name:      "plain",
			Regulator: NewMockRegulator(),
			Decoder:   NewMockDecoder(layout.Plain.Mels),
			Vocoder:   NewMockVocoder(layout.Plain.Hop),
		},
		F0: Profile{
			Name:      "f0",
			Regulator: NewMockRegulator(),
			Decoder:   NewMockDecoder(layout.F0.Mels),
			Vocoder:   NewMockVocoder(layout.F0.Hop),
		},
	}
}

// newONNXSet runs the encoder and style embedder in process and delegates the
// remaining operations to the exec command.
func newONNXSet(cfg config.ModelsConfig) (*Set, error) {
	backend, err := NewExecBackend(cfg.Command)
	if err != nil {
		return nil, err
	}
	encoder, closeEncoder, err := NewONNXEncoder(cfg.ORTLibPath, cfg.EncoderPath)
	if err != nil {
		return nil, err
	}
	style, closeStyle, err := NewONNXStyle(cfg.ORTLibPath, cfg.StylePath)
	if err != nil {
		_ = closeEncoder()
		return nil, err
	}
	return &Set{
		Encoder: encoder,
		Pitch:   backend,
		Style:   style,
		Plain:   backend.Profile("plain"),
		F0:      backend.Profile("f0"),
		closers: []func() error{closeEncoder, closeStyle},
	}, nil
}
