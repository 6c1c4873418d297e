// Package source acquires the source utterance of a conversion from a
// text-to-speech service.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-vc/internal/config"
)

// ErrNoOutput is returned when the service produced no audio, whatever the
// underlying cause (network, auth, empty result).
var ErrNoOutput = errors.New("source synthesis produced no output")

// Request contains parameters to synthesize the source utterance.
type Request struct {
	Text  string
	Voice string
	// Rate is a speaking rate change in percent.
	Rate int
	// Pitch is a pitch change in Hz.
	Pitch int
}

// Synthesizer writes the synthesized utterance to a file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (string, error)
}

// New returns the synthesizer selected by cfg.Mode.
func New(cfg config.SourceConfig) (Synthesizer, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", "mock":
		return NewMockSynth(cfg.OutputDir, cfg.SampleRate), nil
	case "exec":
		return NewExecSynth(cfg)
	default:
		return nil, fmt.Errorf("unsupported source mode %q", cfg.Mode)
	}
}

// VoiceName strips the gender suffix from identifiers like
// "zh-CN-YunjianNeural-Male".
func VoiceName(voice string) string {
	voice = strings.TrimSpace(voice)
	idx := strings.LastIndex(voice, "-")
	if idx < 0 {
		return voice
	}
	switch strings.ToLower(voice[idx+1:]) {
	case "male", "female":
		return voice[:idx]
	}
	return voice
}
