//go:build onnx

package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortInitOnce ensures the ONNX Runtime environment is initialized exactly once.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ONNXAvailable reports that the ONNX backend is compiled in.
func ONNXAvailable() bool { return true }

func initORT(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// onnxGraph runs a single-input single-output float32 graph.
type onnxGraph struct {
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

func openGraph(libPath, path string) (*onnxGraph, error) {
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: inspect %s: %w", path, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("onnx: %s must have exactly one input and one output", path)
	}
	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session for %s: %w", path, err)
	}
	return &onnxGraph{session: session}, nil
}

// run feeds data with the given shape and returns the flat output and its shape.
func (g *onnxGraph) run(data []float32, shape ...int64) ([]float32, ort.Shape, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := g.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("onnx: unexpected output type %T", outputs[0])
	}
	return append([]float32(nil), tensor.GetData()...), tensor.GetShape(), nil
}

func (g *onnxGraph) Close() error {
	if g.session == nil {
		return nil
	}
	err := g.session.Destroy()
	g.session = nil
	return err
}

type onnxEncoder struct{ graph *onnxGraph }

// NewONNXEncoder loads a content encoder graph taking [1, samples] audio and
// returning [1, frames, dims].
func NewONNXEncoder(libPath, path string) (ContentEncoder, func() error, error) {
	g, err := openGraph(libPath, path)
	if err != nil {
		return nil, nil, err
	}
	return &onnxEncoder{graph: g}, g.Close, nil
}

func (e *onnxEncoder) Encode(ctx context.Context, window []float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, shape, err := e.graph.run(window, 1, int64(len(window)))
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("onnx encoder: unexpected output shape %v", shape)
	}
	return unflatten(data, int(shape[1]), int(shape[2])), nil
}

type onnxStyle struct{ graph *onnxGraph }

// NewONNXStyle loads a speaker embedding graph taking [1, frames, bins] and
// returning [1, dims].
func NewONNXStyle(libPath, path string) (StyleEmbedder, func() error, error) {
	g, err := openGraph(libPath, path)
	if err != nil {
		return nil, nil, err
	}
	return &onnxStyle{graph: g}, g.Close, nil
}

func (s *onnxStyle) Embed(ctx context.Context, fbank [][]float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(fbank) == 0 {
		return nil, fmt.Errorf("onnx style: empty fbank")
	}
	bins := len(fbank[0])
	flat := make([]float32, 0, len(fbank)*bins)
	for _, row := range fbank {
		flat = append(flat, row...)
	}
	data, _, err := s.graph.run(flat, 1, int64(len(fbank)), int64(bins))
	return data, err
}

func unflatten(data []float32, rows, cols int) [][]float32 {
	out := make([][]float32, rows)
	for i := range out {
		out[i] = data[i*cols : (i+1)*cols]
	}
	return out
}
