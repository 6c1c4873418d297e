package conversion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-vc/internal/protocol"
)

// Request describes one conversion. Start from Pipeline.Defaults and
// override fields.
type Request struct {
	ID string

	// Source utterance: either synthesized from Text or read from SourcePath.
	Text       string
	Voice      string
	Rate       int
	Pitch      int
	SourcePath string

	ReferencePath string

	DiffusionSteps int
	LengthAdjust   float64
	CFGRate        float64
	F0Condition    bool
	AutoF0Adjust   bool
	PitchShift     int
	// SaveWAV persists the full result under conversion.output_dir.
	SaveWAV bool
}

// Validate checks the per-request parameter ranges.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.ReferencePath) == "":
		return fmt.Errorf("%w: reference audio is required", ErrInvalidInput)
	case strings.TrimSpace(r.SourcePath) == "" && strings.TrimSpace(r.Text) == "":
		return fmt.Errorf("%w: source text or source audio is required", ErrInvalidInput)
	case r.DiffusionSteps < 1 || r.DiffusionSteps > 200:
		return fmt.Errorf("%w: diffusion steps %d outside 1..200", ErrInvalidInput, r.DiffusionSteps)
	case r.LengthAdjust < 0.5 || r.LengthAdjust > 2.0:
		return fmt.Errorf("%w: length adjust %.2f outside 0.5..2.0", ErrInvalidInput, r.LengthAdjust)
	case r.CFGRate < 0 || r.CFGRate > 1:
		return fmt.Errorf("%w: cfg rate %.2f outside 0..1", ErrInvalidInput, r.CFGRate)
	case r.PitchShift < -24 || r.PitchShift > 24:
		return fmt.Errorf("%w: pitch shift %d outside -24..24", ErrInvalidInput, r.PitchShift)
	case r.Rate < -100 || r.Rate > 100:
		return fmt.Errorf("%w: speech rate %d outside -100..100", ErrInvalidInput, r.Rate)
	case r.Pitch < -20 || r.Pitch > 20:
		return fmt.Errorf("%w: speech pitch %d outside -20..20", ErrInvalidInput, r.Pitch)
	}
	return nil
}

// RequestFromMessage overlays a wire request on defaults.
func RequestFromMessage(defaults Request, msg protocol.ConvertRequest) Request {
	req := defaults
	req.ID = msg.RequestID
	req.Text = msg.Text
	req.Voice = msg.Voice
	req.Rate = msg.Rate
	req.Pitch = msg.Pitch
	req.SourcePath = msg.SourcePath
	req.ReferencePath = msg.ReferencePath
	req.F0Condition = msg.F0Condition
	req.PitchShift = msg.PitchShift
	req.SaveWAV = msg.SaveWAV
	if msg.DiffusionSteps != nil {
		req.DiffusionSteps = *msg.DiffusionSteps
	}
	if msg.LengthAdjust != nil {
		req.LengthAdjust = *msg.LengthAdjust
	}
	if msg.CFGRate != nil {
		req.CFGRate = *msg.CFGRate
	}
	if msg.AutoF0Adjust != nil {
		req.AutoF0Adjust = *msg.AutoF0Adjust
	}
	return req
}

// Status builds the wire status for a finished conversion.
func Status(res Result, err error) protocol.ConvertStatus {
	status := protocol.ConvertStatus{
		RequestID:  res.ID,
		Completed:  err == nil,
		SampleRate: res.SampleRate,
		Samples:    len(res.Samples),
		Chunks:     res.Chunks,
		WAVPath:    res.WAVPath,
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
		status.NoOutput = errors.Is(err, ErrNoOutput)
		status.SampleRate = 0
	}
	return status
}
