//go:build !onnx

package model

// ONNXAvailable reports that no ONNX backend is compiled in.
func ONNXAvailable() bool { return false }

// NewONNXEncoder returns ErrONNXUnavailable when built without the onnx tag.
func NewONNXEncoder(_, _ string) (ContentEncoder, func() error, error) {
	return nil, nil, ErrONNXUnavailable
}

// NewONNXStyle returns ErrONNXUnavailable when built without the onnx tag.
func NewONNXStyle(_, _ string) (StyleEmbedder, func() error, error) {
	return nil, nil, ErrONNXUnavailable
}
