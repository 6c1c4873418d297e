// Package synth drives the decoder and vocoder over conditioning sequences
// longer than the decoder context, one bounded chunk at a time, and stitches
// the chunk waveforms with crossfades.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/loqalabs/loqa-vc/internal/audio"
	"github.com/loqalabs/loqa-vc/internal/mix"
	"github.com/loqalabs/loqa-vc/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrContextExhausted means the prompt leaves no decoder context for source
// frames.
var ErrContextExhausted = errors.New("prompt exhausts decoder context")

// Params are the chunking and decoding tunables of one run.
type Params struct {
	// MaxContextFrames is the decoder's absolute context, prompt included.
	MaxContextFrames int
	// OverlapFrames is the number of frames shared by adjacent chunks.
	OverlapFrames int
	// HopSamples is the number of waveform samples per acoustic frame.
	HopSamples int
	Steps      int
	CFGRate    float64
}

// Input is the conditioning of one conversion.
type Input struct {
	Condition       [][]float32
	PromptCondition [][]float32
	PromptMel       [][]float32
	Style           []float32
}

// Segment is one streamed piece of output audio.
type Segment struct {
	Sequence int
	Samples  []float32
	Final    bool
}

// State of a Run.
type State int

const (
	AwaitingFirstChunk State = iota
	Streaming
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingFirstChunk:
		return "awaiting_first_chunk"
	case Streaming:
		return "streaming"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Synthesizer holds the collaborators shared by runs. It is safe for
// concurrent use when its decoder and vocoder are.
type Synthesizer struct {
	decoder model.Decoder
	vocoder model.Vocoder
	params  Params
	tracer  trace.Tracer
}

func New(decoder model.Decoder, vocoder model.Vocoder, params Params) (*Synthesizer, error) {
	if decoder == nil || vocoder == nil {
		return nil, fmt.Errorf("decoder and vocoder are required")
	}
	if params.OverlapFrames < 1 || params.HopSamples < 1 {
		return nil, fmt.Errorf("invalid overlap %d / hop %d", params.OverlapFrames, params.HopSamples)
	}
	return &Synthesizer{
		decoder: decoder,
		vocoder: vocoder,
		params:  params,
		tracer:  otel.Tracer("github.com/loqalabs/loqa-vc/internal/synth"),
	}, nil
}

// Run is the per-request chunking state. It is not safe for concurrent use.
type Run struct {
	s      *Synthesizer
	in     Input
	window int

	state        State
	processed    int
	previousTail []float32
	segments     [][]float32
}

// Start validates the input and returns a run awaiting its first chunk.
func (s *Synthesizer) Start(in Input) (*Run, error) {
	if len(in.Condition) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	if len(in.PromptCondition) != len(in.PromptMel) {
		return nil, fmt.Errorf("prompt condition has %d frames, prompt mel %d", len(in.PromptCondition), len(in.PromptMel))
	}
	window := s.params.MaxContextFrames - len(in.PromptMel)
	if window <= s.params.OverlapFrames {
		return nil, fmt.Errorf("%w: context %d, prompt %d, overlap %d", ErrContextExhausted, s.params.MaxContextFrames, len(in.PromptMel), s.params.OverlapFrames)
	}
	return &Run{s: s, in: in, window: window}, nil
}

func (r *Run) State() State { return r.state }

// Processed is the number of condition frames consumed so far.
func (r *Run) Processed() int { return r.processed }

// Result is the concatenation of every emitted segment. It is complete once
// the run is Done.
func (r *Run) Result() []float32 { return audio.Concat(r.segments) }

// Segments returns the emitted segments in order.
func (r *Run) Segments() [][]float32 { return slices.Clone(r.segments) }

// Next generates the next chunk and returns its streamed segment. It returns
// io.EOF once the final segment has been returned. A failed chunk ends the
// run; segments already returned stay valid.
func (r *Run) Next(ctx context.Context) (Segment, error) {
	if r.state == Done {
		return Segment{}, io.EOF
	}
	seg, err := r.step(ctx)
	if err != nil {
		r.state = Done
		r.previousTail = nil
		return Segment{}, err
	}
	return seg, nil
}

func (r *Run) step(ctx context.Context) (Segment, error) {
	p := r.s.params
	total := len(r.in.Condition)
	chunk := r.in.Condition[r.processed:min(r.processed+r.window, total)]
	last := r.processed+r.window >= total
	sequence := len(r.segments)

	ctx, span := r.s.tracer.Start(ctx, "synth.chunk", trace.WithAttributes(
		attribute.Int("chunk.sequence", sequence),
		attribute.Int("chunk.frames", len(chunk)),
		attribute.Bool("chunk.last", last),
	))
	defer span.End()

	wave, frames, err := r.render(ctx, chunk)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Segment{}, err
	}

	overlap := p.OverlapFrames * p.HopSamples
	var out []float32
	switch {
	case r.state == AwaitingFirstChunk && last:
		out = wave
	case last:
		out = blend(r.previousTail, wave, overlap)
		r.previousTail = nil
	default:
		if len(wave) <= overlap || frames <= p.OverlapFrames {
			err := fmt.Errorf("chunk %d produced %d samples, overlap needs more than %d", sequence, len(wave), overlap)
			span.SetStatus(codes.Error, err.Error())
			return Segment{}, err
		}
		body := wave[:len(wave)-overlap]
		if r.state == AwaitingFirstChunk {
			out = body
		} else {
			out = blend(r.previousTail, body, overlap)
		}
		r.previousTail = wave[len(wave)-overlap:]
		// The next chunk regenerates the overlap frames.
		r.processed += frames - p.OverlapFrames
	}

	if last {
		r.processed = total
		r.state = Done
	} else {
		r.state = Streaming
	}
	r.segments = append(r.segments, out)
	span.SetAttributes(attribute.Int("chunk.samples", len(out)))
	return Segment{Sequence: sequence, Samples: out, Final: last}, nil
}

// render decodes prompt+chunk, strips the prompt-aligned prefix and vocodes
// the rest. It returns the waveform and the number of chunk frames decoded.
func (r *Run) render(ctx context.Context, chunk [][]float32) ([]float32, int, error) {
	p := r.s.params
	condition := make([][]float32, 0, len(r.in.PromptCondition)+len(chunk))
	condition = append(append(condition, r.in.PromptCondition...), chunk...)
	mel, err := r.s.decoder.Decode(ctx, model.DecodeRequest{
		Condition: condition,
		PromptMel: r.in.PromptMel,
		Style:     r.in.Style,
		Steps:     p.Steps,
		CFGRate:   p.CFGRate,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("decode chunk: %w", err)
	}
	prompt := len(r.in.PromptMel)
	if len(mel) <= prompt {
		return nil, 0, fmt.Errorf("decoder returned %d frames for a %d frame prompt", len(mel), prompt)
	}
	mel = mel[prompt:]
	wave, err := r.s.vocoder.Vocode(ctx, mel)
	if err != nil {
		return nil, 0, fmt.Errorf("vocode chunk: %w", err)
	}
	return wave, len(mel), nil
}

// blend crossfades tail into the head of wave and returns a new slice.
func blend(tail, wave []float32, overlap int) []float32 {
	head := mix.Crossfade(tail, wave, overlap)
	out := make([]float32, 0, len(wave))
	out = append(out, head...)
	return append(out, wave[len(head):]...)
}

// Stream runs in to completion, calling emit with every segment as soon as it
// is ready, and returns the full waveform. An emit error aborts the run.
func (s *Synthesizer) Stream(ctx context.Context, in Input, emit func(Segment) error) ([]float32, error) {
	run, err := s.Start(in)
	if err != nil {
		return nil, err
	}
	for {
		seg, err := run.Next(ctx)
		if errors.Is(err, io.EOF) {
			return run.Result(), nil
		}
		if err != nil {
			return nil, err
		}
		if emit != nil {
			if err := emit(seg); err != nil {
				return nil, err
			}
		}
	}
}
