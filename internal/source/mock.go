package source

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-vc/internal/audio"
)

const (
	mockBaseFrequency  = 160.0
	mockSecondsPerRune = 0.08
	mockMinSeconds     = 0.5
)

type mockSynth struct {
	outputDir  string
	sampleRate int
}

// NewMockSynth writes a tone whose length follows the text length.
func NewMockSynth(outputDir string, sampleRate int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &mockSynth{outputDir: outputDir, sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	if utf8.RuneCountInString(req.Text) == 0 {
		return "", fmt.Errorf("%w: empty text", ErrNoOutput)
	}

	seconds := math.Max(mockMinSeconds, float64(utf8.RuneCountInString(req.Text))*mockSecondsPerRune)
	seconds *= 100 / float64(100+max(req.Rate, -50))
	freq := mockBaseFrequency + float64(req.Pitch)
	samples := make([]float32, int(seconds*float64(m.sampleRate)))
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
	}

	file, err := os.CreateTemp(m.outputDir, "loqa-vc-source-*.wav")
	if err != nil {
		return "", fmt.Errorf("create source file: %w", err)
	}
	path := file.Name()
	file.Close()
	if err := audio.WriteWAV(path, audio.Buffer{Samples: samples, SampleRate: m.sampleRate}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrNoOutput, err)
	}
	return path, nil
}
