package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/loqalabs/loqa-vc/internal/config"
	"github.com/mattn/go-shellwords"
)

// execSynth drives an edge-tts compatible command line.
type execSynth struct {
	cmd          []string
	proxy        string
	outputDir    string
	defaultVoice string
	timeout      time.Duration
}

func NewExecSynth(cfg config.SourceConfig) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse source command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("source command empty")
	}
	return &execSynth{
		cmd:          args,
		proxy:        cfg.Proxy,
		outputDir:    cfg.OutputDir,
		defaultVoice: cfg.DefaultVoice,
		timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	voice := req.Voice
	if voice == "" {
		voice = e.defaultVoice
	}

	file, err := os.CreateTemp(e.outputDir, "loqa-vc-source-*.mp3")
	if err != nil {
		return "", fmt.Errorf("create source file: %w", err)
	}
	path := file.Name()
	file.Close()

	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--text", req.Text,
		"--voice", VoiceName(voice),
		fmt.Sprintf("--rate=%+d%%", req.Rate),
		fmt.Sprintf("--pitch=%+dHz", req.Pitch),
		"--write-media", path,
	)
	if e.proxy != "" {
		args = append(args, "--proxy", e.proxy)
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: %v: %s", ErrNoOutput, err, stderr.String())
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		os.Remove(path)
		return "", fmt.Errorf("%w: empty media file", ErrNoOutput)
	}
	return path, nil
}
