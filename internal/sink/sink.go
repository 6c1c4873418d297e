// Package sink turns waveform segments into self-contained encoded units for
// transport. Every Encode call is independent of the previous ones.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-vc/internal/audio"
	"github.com/loqalabs/loqa-vc/internal/config"
	"github.com/mattn/go-shellwords"
)

// Encoder encodes one waveform segment.
type Encoder interface {
	Format() string
	ContentType() string
	Encode(ctx context.Context, samples []float32, rate int) ([]byte, error)
}

// New returns the encoder for cfg.Format.
func New(cfg config.ConversionConfig) (Encoder, error) {
	switch strings.ToLower(cfg.Format) {
	case "mp3", "":
		return NewExecEncoder(cfg.EncoderCommand, cfg.Bitrate, "mp3", "audio/mpeg")
	case "wav":
		return WAVEncoder{}, nil
	case "pcm":
		return PCMEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", cfg.Format)
	}
}

// ExecEncoder pipes 16-bit little-endian mono PCM into an external encoder
// and returns its stdout. The placeholders {rate} and {bitrate} in the
// command arguments are replaced per call.
type ExecEncoder struct {
	cmd         []string
	bitrate     string
	format      string
	contentType string
}

func NewExecEncoder(command, bitrate, format, contentType string) (*ExecEncoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse encoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("encoder command empty")
	}
	return &ExecEncoder{cmd: args, bitrate: bitrate, format: format, contentType: contentType}, nil
}

func (e *ExecEncoder) Format() string      { return e.format }
func (e *ExecEncoder) ContentType() string { return e.contentType }

func (e *ExecEncoder) Encode(ctx context.Context, samples []float32, rate int) ([]byte, error) {
	replacer := strings.NewReplacer("{rate}", strconv.Itoa(rate), "{bitrate}", e.bitrate)
	args := make([]string, len(e.cmd))
	for i, arg := range e.cmd {
		args[i] = replacer.Replace(arg)
	}

	command := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdin = bytes.NewReader(audio.PCM16Bytes(audio.ToPCM16(samples)))
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("encoder command failed: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// WAVEncoder wraps each segment in its own 16-bit WAV container.
type WAVEncoder struct{}

func (WAVEncoder) Format() string      { return "wav" }
func (WAVEncoder) ContentType() string { return "audio/wav" }

func (WAVEncoder) Encode(ctx context.Context, samples []float32, rate int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.CreateTemp("", "loqa-vc-segment-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	defer func() {
		file.Close()
		os.Remove(file.Name())
	}()
	if err := audio.EncodeWAV(file, audio.Buffer{Samples: samples, SampleRate: rate}); err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind wav: %w", err)
	}
	return io.ReadAll(file)
}

// PCMEncoder emits raw 16-bit little-endian mono PCM.
type PCMEncoder struct{}

func (PCMEncoder) Format() string      { return "pcm" }
func (PCMEncoder) ContentType() string { return "audio/L16" }

func (PCMEncoder) Encode(ctx context.Context, samples []float32, _ int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return audio.PCM16Bytes(audio.ToPCM16(samples)), nil
}
