package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// ExecBackend runs every model operation through an external command. Each
// call writes one JSON request to the command's stdin and reads one JSON
// response from its stdout. Calls are serialized so a single model server
// process never sees concurrent requests.
type ExecBackend struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Op        string      `json:"op"`
	Profile   string      `json:"profile,omitempty"`
	Samples   []float32   `json:"samples,omitempty"`
	Frames    [][]float32 `json:"frames,omitempty"`
	Prompt    [][]float32 `json:"prompt,omitempty"`
	F0        []float32   `json:"f0,omitempty"`
	Style     []float32   `json:"style,omitempty"`
	TargetLen int         `json:"target_len,omitempty"`
	Threshold float64     `json:"threshold,omitempty"`
	Steps     int         `json:"steps,omitempty"`
	CFGRate   float64     `json:"cfg_rate,omitempty"`
}

type execResponse struct {
	Frames  [][]float32 `json:"frames"`
	Samples []float32   `json:"samples"`
	Vector  []float32   `json:"vector"`
	Error   string      `json:"error"`
}

func NewExecBackend(command string) (*ExecBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse model command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("model command empty")
	}
	return &ExecBackend{cmd: args}, nil
}

func (b *ExecBackend) call(ctx context.Context, req execRequest) (execResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	input, err := json.Marshal(req)
	if err != nil {
		return execResponse{}, err
	}

	base := b.cmd[0]
	args := append([]string{}, b.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return execResponse{}, fmt.Errorf("model %s command failed: %w: %s", req.Op, err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return execResponse{}, fmt.Errorf("decode model %s response: %w", req.Op, err)
	}
	if resp.Error != "" {
		return execResponse{}, fmt.Errorf("model %s: %s", req.Op, resp.Error)
	}
	return resp, nil
}

func (b *ExecBackend) Encode(ctx context.Context, window []float32) ([][]float32, error) {
	resp, err := b.call(ctx, execRequest{Op: "encode", Samples: window})
	if err != nil {
		return nil, err
	}
	return resp.Frames, nil
}

func (b *ExecBackend) Estimate(ctx context.Context, samples []float32, threshold float64) ([]float32, error) {
	resp, err := b.call(ctx, execRequest{Op: "pitch", Samples: samples, Threshold: threshold})
	if err != nil {
		return nil, err
	}
	return resp.Samples, nil
}

func (b *ExecBackend) Embed(ctx context.Context, fbank [][]float32) ([]float32, error) {
	resp, err := b.call(ctx, execRequest{Op: "style", Frames: fbank})
	if err != nil {
		return nil, err
	}
	return resp.Vector, nil
}

// Profile binds the decoder side operations to a named profile.
func (b *ExecBackend) Profile(name string) Profile {
	p := execProfile{backend: b, name: name}
	return Profile{Name: name, Regulator: p, Decoder: p, Vocoder: p}
}

type execProfile struct {
	backend *ExecBackend
	name    string
}

func (p execProfile) Regulate(ctx context.Context, content [][]float32, targetLen int, f0 []float32) ([][]float32, error) {
	resp, err := p.backend.call(ctx, execRequest{Op: "regulate", Profile: p.name, Frames: content, TargetLen: targetLen, F0: f0})
	if err != nil {
		return nil, err
	}
	if len(resp.Frames) != targetLen {
		return nil, fmt.Errorf("model regulate: got %d frames, want %d", len(resp.Frames), targetLen)
	}
	return resp.Frames, nil
}

func (p execProfile) Decode(ctx context.Context, req DecodeRequest) ([][]float32, error) {
	resp, err := p.backend.call(ctx, execRequest{
		Op:      "decode",
		Profile: p.name,
		Frames:  req.Condition,
		Prompt:  req.PromptMel,
		Style:   req.Style,
		Steps:   req.Steps,
		CFGRate: req.CFGRate,
	})
	if err != nil {
		return nil, err
	}
	return resp.Frames, nil
}

func (p execProfile) Vocode(ctx context.Context, mel [][]float32) ([]float32, error) {
	resp, err := p.backend.call(ctx, execRequest{Op: "vocode", Profile: p.name, Frames: mel})
	if err != nil {
		return nil, err
	}
	return resp.Samples, nil
}
