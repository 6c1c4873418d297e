// Package conversion runs a voice conversion end to end: source acquisition,
// feature extraction, pitch transfer, conditioning and chunked synthesis,
// streaming every encoded chunk as soon as it is ready.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-vc/internal/audio"
	"github.com/loqalabs/loqa-vc/internal/config"
	"github.com/loqalabs/loqa-vc/internal/content"
	"github.com/loqalabs/loqa-vc/internal/features"
	"github.com/loqalabs/loqa-vc/internal/model"
	"github.com/loqalabs/loqa-vc/internal/pitch"
	"github.com/loqalabs/loqa-vc/internal/sink"
	"github.com/loqalabs/loqa-vc/internal/source"
	"github.com/loqalabs/loqa-vc/internal/synth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNoOutput is the terminal result of a failed source acquisition.
	ErrNoOutput = errors.New("conversion produced no output")
	// ErrInvalidInput marks missing, unreadable or out of range input.
	ErrInvalidInput = errors.New("invalid conversion input")
)

// Chunk is one encoded piece of the converted utterance.
type Chunk struct {
	Sequence   int
	Data       []byte
	Samples    int
	SampleRate int
	Format     string
	Final      bool
}

// Result is the complete output of a conversion.
type Result struct {
	ID         string
	SourcePath string
	SampleRate int
	Samples    []float32
	Chunks     int
	WAVPath    string
	Elapsed    time.Duration
}

// Handlers receive progress while a conversion runs. Either may be nil.
// Source is called once with the source audio path before any chunk.
// A Chunk error aborts the conversion.
type Handlers struct {
	Source func(path string)
	Chunk  func(Chunk) error
}

type profile struct {
	models model.Profile
	mel    *features.MelExtractor
	cfg    config.ProfileConfig
}

// Pipeline owns the long-lived collaborators of conversions. Conversions on
// one pipeline may run concurrently only if the model set allows it.
type Pipeline struct {
	cfg      config.ConversionConfig
	source   source.Synthesizer
	sink     sink.Encoder
	adapter  *content.Adapter
	transfer *pitch.Transfer
	style    model.StyleEmbedder
	plain    profile
	f0       profile
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *instruments
}

func New(cfg config.Config, models *model.Set, src source.Synthesizer, enc sink.Encoder, log *slog.Logger) (*Pipeline, error) {
	if models == nil || src == nil || enc == nil {
		return nil, fmt.Errorf("models, source and sink are required")
	}
	c := cfg.Conversion
	adapter, err := content.NewAdapter(models.Encoder, content.Config{
		SampleRate:        c.EncoderSampleRate,
		HopSamples:        c.EncoderHop,
		MaxContextSeconds: c.EncoderContextSeconds,
		OverlapSeconds:    c.EncoderOverlapSeconds,
	})
	if err != nil {
		return nil, err
	}
	plain, err := newProfile(models.Plain, cfg.Profiles.Plain)
	if err != nil {
		return nil, fmt.Errorf("plain profile: %w", err)
	}
	f0, err := newProfile(models.F0, cfg.Profiles.F0)
	if err != nil {
		return nil, fmt.Errorf("f0 profile: %w", err)
	}

	p := &Pipeline{
		cfg:      c,
		source:   src,
		sink:     enc,
		adapter:  adapter,
		transfer: pitch.NewTransfer(models.Pitch, c.PitchThreshold),
		style:    models.Style,
		plain:    plain,
		f0:       f0,
		logger:   log.With(slog.String("component", "conversion")),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-vc/internal/conversion"),
	}
	if p.metrics, err = initMetrics(); err != nil {
		p.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return p, nil
}

func newProfile(models model.Profile, cfg config.ProfileConfig) (profile, error) {
	mel, err := features.NewMelExtractor(features.MelParams{
		SampleRate: cfg.SampleRate,
		NFFT:       cfg.NFFT,
		WinLength:  cfg.WinLength,
		Hop:        cfg.Hop,
		Mels:       cfg.Mels,
	})
	if err != nil {
		return profile{}, err
	}
	return profile{models: models, mel: mel, cfg: cfg}, nil
}

// Defaults returns a request carrying the configured tunables.
func (p *Pipeline) Defaults() Request {
	return Request{
		DiffusionSteps: p.cfg.DiffusionSteps,
		LengthAdjust:   p.cfg.LengthAdjust,
		CFGRate:        p.cfg.CFGRate,
		AutoF0Adjust:   true,
	}
}

// Format is the encoding of streamed chunks.
func (p *Pipeline) Format() string { return p.sink.Format() }

// ContentType is the MIME type of streamed chunks.
func (p *Pipeline) ContentType() string { return p.sink.ContentType() }

// Convert runs req to completion. Chunks already handed to h stay valid when
// a later step fails.
func (p *Pipeline) Convert(ctx context.Context, req Request, h Handlers) (Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	prof := p.profile(req.F0Condition)
	started := time.Now()
	if p.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	ctx, span := p.tracer.Start(ctx, "conversion", trace.WithAttributes(
		attribute.String("conversion.id", req.ID),
		attribute.String("conversion.profile", prof.models.Name),
	))
	defer span.End()

	logger := p.logger.With(slog.String("conversion_id", req.ID), slog.String("profile", prof.models.Name))
	res, err := p.convert(ctx, req, prof, h, logger)
	res.ID = req.ID
	res.Elapsed = time.Since(started)

	outcome := outcomeCompleted
	switch {
	case errors.Is(err, ErrNoOutput):
		outcome = outcomeNoOutput
	case errors.Is(err, ErrInvalidInput):
		outcome = outcomeInvalid
	case err != nil:
		outcome = outcomeFailed
	}
	p.metrics.finish(ctx, prof.models.Name, outcome, res.Elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("conversion failed", slog.String("outcome", outcome), slog.Int("chunks", res.Chunks), slogError(err))
		return res, err
	}
	logger.Info("conversion completed",
		slog.Int("chunks", res.Chunks),
		slog.Int("samples", len(res.Samples)),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (p *Pipeline) profile(f0 bool) profile {
	if f0 {
		return p.f0
	}
	return p.plain
}

func (p *Pipeline) convert(ctx context.Context, req Request, prof profile, h Handlers, logger *slog.Logger) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	sourcePath, err := p.acquire(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res := Result{SourcePath: sourcePath, SampleRate: prof.cfg.SampleRate}
	if h.Source != nil {
		h.Source(sourcePath)
	}

	sr := prof.cfg.SampleRate
	src, err := loadInput(sourcePath, sr, 0)
	if err != nil {
		return res, fmt.Errorf("source audio: %w", err)
	}
	ref, err := loadInput(req.ReferencePath, sr, p.cfg.MaxReferenceSeconds)
	if err != nil {
		return res, fmt.Errorf("reference audio: %w", err)
	}
	logger.Debug("inputs loaded",
		slog.Duration("source", src.Duration()),
		slog.Duration("reference", ref.Duration()),
	)

	input, err := p.condition(ctx, req, prof, src, ref)
	if err != nil {
		return res, err
	}

	synthesizer, err := synth.New(prof.models.Decoder, prof.models.Vocoder, synth.Params{
		MaxContextFrames: sr / prof.cfg.Hop * p.cfg.ContextSeconds,
		OverlapFrames:    p.cfg.OverlapFrames,
		HopSamples:       prof.cfg.Hop,
		Steps:            req.DiffusionSteps,
		CFGRate:          req.CFGRate,
	})
	if err != nil {
		return res, err
	}
	wave, err := synthesizer.Stream(ctx, input, func(seg synth.Segment) error {
		data, err := p.sink.Encode(ctx, seg.Samples, sr)
		if err != nil {
			return fmt.Errorf("encode chunk %d: %w", seg.Sequence, err)
		}
		res.Chunks++
		p.metrics.chunk(ctx, prof.models.Name)
		if h.Chunk == nil {
			return nil
		}
		return h.Chunk(Chunk{
			Sequence:   seg.Sequence,
			Data:       data,
			Samples:    len(seg.Samples),
			SampleRate: sr,
			Format:     p.sink.Format(),
			Final:      seg.Final,
		})
	})
	if err != nil {
		return res, err
	}
	res.Samples = wave

	if req.SaveWAV && p.cfg.OutputDir != "" {
		path := filepath.Join(p.cfg.OutputDir, req.ID+".wav")
		if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
			return res, fmt.Errorf("create output dir: %w", err)
		}
		if err := audio.WriteWAV(path, audio.Buffer{Samples: wave, SampleRate: sr}); err != nil {
			return res, err
		}
		res.WAVPath = path
	}
	return res, nil
}

// acquire returns the source audio path, synthesizing it when needed.
func (p *Pipeline) acquire(ctx context.Context, req Request) (string, error) {
	if req.SourcePath != "" {
		return req.SourcePath, nil
	}
	path, err := p.source.Synthesize(ctx, source.Request{
		Text:  req.Text,
		Voice: req.Voice,
		Rate:  req.Rate,
		Pitch: req.Pitch,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoOutput, err)
	}
	return path, nil
}

func loadInput(path string, rate, maxSeconds int) (audio.Buffer, error) {
	buf, err := audio.Load(path, rate)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if maxSeconds > 0 {
		buf = buf.Clip(maxSeconds)
	}
	if buf.Len() == 0 {
		return audio.Buffer{}, fmt.Errorf("%w: %s is empty", ErrInvalidInput, filepath.Base(path))
	}
	return buf, nil
}

// condition builds the decoder input: regulated source content, the
// reference prompt and the speaker style.
func (p *Pipeline) condition(ctx context.Context, req Request, prof profile, src, ref audio.Buffer) (synth.Input, error) {
	src16, err := audio.Resample(src, p.cfg.EncoderSampleRate)
	if err != nil {
		return synth.Input{}, err
	}
	ref16, err := audio.Resample(ref, p.cfg.EncoderSampleRate)
	if err != nil {
		return synth.Input{}, err
	}

	srcContent, err := p.adapter.Extract(ctx, src16.Samples)
	if err != nil {
		return synth.Input{}, fmt.Errorf("source content: %w", err)
	}
	refContent, err := p.adapter.Extract(ctx, ref16.Samples)
	if err != nil {
		return synth.Input{}, fmt.Errorf("reference content: %w", err)
	}

	promptMel := prof.mel.Extract(ref.Samples)
	if len(promptMel) == 0 {
		return synth.Input{}, fmt.Errorf("%w: reference too short for a mel frame", ErrInvalidInput)
	}
	targetLen := int(float64(prof.mel.FrameCount(src.Len())) * req.LengthAdjust)
	if targetLen < 1 {
		return synth.Input{}, fmt.Errorf("%w: source too short for a mel frame", ErrInvalidInput)
	}

	fbank := features.Fbank(ref16.Samples)
	if len(fbank) == 0 {
		return synth.Input{}, fmt.Errorf("%w: reference too short for fbank features", ErrInvalidInput)
	}
	style, err := p.style.Embed(ctx, fbank)
	if err != nil {
		return synth.Input{}, fmt.Errorf("embed style: %w", err)
	}

	var srcF0, refF0 []float32
	if req.F0Condition {
		f0, err := p.transfer.Run(ctx, ref16.Samples, src16.Samples, pitch.Options{
			AutoAdjust:      req.AutoF0Adjust,
			Semitones:       float64(req.PitchShift),
			ReferenceFrames: len(refContent),
			SourceFrames:    len(srcContent),
		})
		if err != nil {
			return synth.Input{}, err
		}
		srcF0, refF0 = f0.Source, f0.Reference
	}

	regulator := prof.models.Regulator
	cond, err := regulator.Regulate(ctx, srcContent, targetLen, srcF0)
	if err != nil {
		return synth.Input{}, fmt.Errorf("regulate source: %w", err)
	}
	promptCond, err := regulator.Regulate(ctx, refContent, len(promptMel), refF0)
	if err != nil {
		return synth.Input{}, fmt.Errorf("regulate reference: %w", err)
	}
	return synth.Input{
		Condition:       cond,
		PromptCondition: promptCond,
		PromptMel:       promptMel,
		Style:           style,
	}, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
