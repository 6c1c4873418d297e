package conversion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-vc/internal/audio"
	"github.com/loqalabs/loqa-vc/internal/config"
	"github.com/loqalabs/loqa-vc/internal/model"
	"github.com/loqalabs/loqa-vc/internal/protocol"
	"github.com/loqalabs/loqa-vc/internal/sink"
	"github.com/loqalabs/loqa-vc/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Conversion.ContextSeconds = 1
	cfg.Conversion.Format = "pcm"
	cfg.Conversion.OutputDir = t.TempDir()
	cfg.Conversion.TimeoutMS = 0
	return cfg
}

func writeTone(t *testing.T, name string, rate int, seconds, freq float64) string {
	t.Helper()
	samples := make([]float32, int(seconds*float64(rate)))
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	path := filepath.Join(t.TempDir(), name)
	if err := audio.WriteWAV(path, audio.Buffer{Samples: samples, SampleRate: rate}); err != nil {
		t.Fatalf("write tone: %v", err)
	}
	return path
}

func newTestPipeline(t *testing.T, cfg config.Config, src source.Synthesizer) *Pipeline {
	t.Helper()
	enc, err := sink.New(cfg.Conversion)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	models := model.NewMockSet(model.LayoutFromConfig(cfg))
	if src == nil {
		src = source.NewMockSynth(t.TempDir(), 24000)
	}
	p, err := New(cfg, models, src, enc, testLogger())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func newRequest(p *Pipeline, t *testing.T) Request {
	req := p.Defaults()
	req.Text = "hello there, this is a longer sentence"
	req.Voice = "en-US-AriaNeural-Female"
	req.ReferencePath = writeTone(t, "reference.wav", 22050, 0.5, 220)
	return req
}

func TestConvertStreamsChunks(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), nil)
	req := newRequest(p, t)

	var sources []string
	var chunks []Chunk
	res, err := p.Convert(context.Background(), req, Handlers{
		Source: func(path string) { sources = append(sources, path) },
		Chunk: func(c Chunk) error {
			if len(sources) != 1 {
				t.Errorf("chunk %d delivered before the source", c.Sequence)
			}
			chunks = append(chunks, c)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(sources) != 1 || sources[0] != res.SourcePath {
		t.Fatalf("expected one source notification, got %v", sources)
	}
	if len(chunks) < 2 || res.Chunks != len(chunks) {
		t.Fatalf("expected a multi-chunk stream, got %d (result says %d)", len(chunks), res.Chunks)
	}
	var joined bytes.Buffer
	total := 0
	for i, c := range chunks {
		if c.Sequence != i || c.SampleRate != 22050 || c.Format != "pcm" {
			t.Fatalf("unexpected chunk header %+v", c)
		}
		if c.Final != (i == len(chunks)-1) {
			t.Fatalf("chunk %d final=%v", i, c.Final)
		}
		total += c.Samples
		joined.Write(c.Data)
	}
	if res.SampleRate != 22050 || total != len(res.Samples) {
		t.Fatalf("streamed %d samples, result has %d", total, len(res.Samples))
	}
	if !bytes.Equal(joined.Bytes(), audio.PCM16Bytes(audio.ToPCM16(res.Samples))) {
		t.Fatal("streamed chunks do not add up to the final waveform")
	}
	if res.ID == "" || res.WAVPath != "" {
		t.Fatalf("unexpected result identity %+v", res.ID)
	}
}

func TestConvertF0Profile(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), nil)
	req := newRequest(p, t)
	req.F0Condition = true
	req.PitchShift = 3
	res, err := p.Convert(context.Background(), req, Handlers{})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.SampleRate != 44100 || len(res.Samples) == 0 {
		t.Fatalf("unexpected f0 result %d Hz, %d samples", res.SampleRate, len(res.Samples))
	}
}

type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, source.Request) (string, error) {
	return "", errors.New("dial tcp: connection refused")
}

func TestConvertSourceFailureHasNoOutput(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), failingSynth{})
	req := newRequest(p, t)
	called := false
	res, err := p.Convert(context.Background(), req, Handlers{
		Source: func(string) { called = true },
		Chunk:  func(Chunk) error { called = true; return nil },
	})
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
	if called || res.SourcePath != "" || res.Samples != nil || res.Chunks != 0 {
		t.Fatalf("expected an empty terminal result, got %+v", res)
	}
}

func TestConvertSourcePathSkipsSynthesis(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), failingSynth{})
	req := newRequest(p, t)
	req.Text = ""
	req.SourcePath = writeTone(t, "source.wav", 16000, 1.5, 180)
	res, err := p.Convert(context.Background(), req, Handlers{})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.SourcePath != req.SourcePath {
		t.Fatalf("expected provided source, got %s", res.SourcePath)
	}
}

func TestConvertRejectsInvalidInput(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), nil)

	req := newRequest(p, t)
	req.ReferencePath = ""
	if _, err := p.Convert(context.Background(), req, Handlers{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing reference, got %v", err)
	}

	req = newRequest(p, t)
	req.ReferencePath = filepath.Join(t.TempDir(), "missing.wav")
	if _, err := p.Convert(context.Background(), req, Handlers{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unreadable reference, got %v", err)
	}

	req = newRequest(p, t)
	req.ReferencePath = filepath.Join(t.TempDir(), "empty.wav")
	if err := os.WriteFile(req.ReferencePath, nil, 0o644); err != nil {
		t.Fatalf("write empty reference: %v", err)
	}
	if _, err := p.Convert(context.Background(), req, Handlers{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty reference, got %v", err)
	}
}

func TestConvertSavesWAV(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, nil)
	req := newRequest(p, t)
	req.ID = "save-test"
	req.SaveWAV = true
	res, err := p.Convert(context.Background(), req, Handlers{})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.WAVPath != filepath.Join(cfg.Conversion.OutputDir, "save-test.wav") {
		t.Fatalf("unexpected wav path %s", res.WAVPath)
	}
	if _, err := os.Stat(res.WAVPath); err != nil {
		t.Fatalf("stat wav: %v", err)
	}
}

func TestChunkHandlerErrorAborts(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), nil)
	stop := errors.New("listener disconnected")
	calls := 0
	_, err := p.Convert(context.Background(), newRequest(p, t), Handlers{
		Chunk: func(Chunk) error { calls++; return stop },
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected abort after the first chunk, got %v after %d calls", err, calls)
	}
}

func TestStartDeliversChunksThenResult(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), nil)
	stream := p.Start(context.Background(), newRequest(p, t))

	path, ok := <-stream.Source()
	if !ok || path == "" {
		t.Fatal("expected a source path")
	}
	total := 0
	last := false
	for c := range stream.Chunks() {
		total += c.Samples
		last = c.Final
	}
	res, err := stream.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !last || total != len(res.Samples) {
		t.Fatalf("stream incomplete: final=%v, %d of %d samples", last, total, len(res.Samples))
	}
}

func TestStartReportsFailure(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), failingSynth{})
	stream := p.Start(context.Background(), newRequest(p, t))
	if _, ok := <-stream.Source(); ok {
		t.Fatal("expected no source on acquisition failure")
	}
	for range stream.Chunks() {
		t.Fatal("expected no chunks")
	}
	if _, err := stream.Wait(); !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

func TestRequestValidate(t *testing.T) {
	base := Request{Text: "hi", ReferencePath: "ref.wav", DiffusionSteps: 10, LengthAdjust: 1, CFGRate: 0.7}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := []func(r *Request){
		func(r *Request) { r.DiffusionSteps = 0 },
		func(r *Request) { r.DiffusionSteps = 201 },
		func(r *Request) { r.LengthAdjust = 0.4 },
		func(r *Request) { r.CFGRate = 1.5 },
		func(r *Request) { r.PitchShift = 25 },
		func(r *Request) { r.Rate = -101 },
		func(r *Request) { r.Pitch = 21 },
		func(r *Request) { r.Text = "" },
	}
	for i, mutate := range bad {
		req := base
		mutate(&req)
		if err := req.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestRequestFromMessage(t *testing.T) {
	steps := 25
	cfgRate := 0.0
	auto := false
	defaults := Request{DiffusionSteps: 10, LengthAdjust: 1, CFGRate: 0.7, AutoF0Adjust: true}
	req := RequestFromMessage(defaults, protocol.ConvertRequest{
		RequestID:      "r1",
		Text:           "hi",
		ReferencePath:  "ref.wav",
		DiffusionSteps: &steps,
		CFGRate:        &cfgRate,
		AutoF0Adjust:   &auto,
		PitchShift:     -2,
	})
	if req.ID != "r1" || req.DiffusionSteps != 25 || req.CFGRate != 0 || req.AutoF0Adjust || req.PitchShift != -2 {
		t.Fatalf("overrides not applied: %+v", req)
	}
	if req.LengthAdjust != 1 {
		t.Fatalf("expected default length adjust, got %v", req.LengthAdjust)
	}
}

func TestStatus(t *testing.T) {
	ok := Status(Result{ID: "a", SampleRate: 22050, Samples: make([]float32, 10), Chunks: 2}, nil)
	if !ok.Completed || ok.Samples != 10 || ok.Chunks != 2 || ok.Error != "" {
		t.Fatalf("unexpected status %+v", ok)
	}
	failed := Status(Result{ID: "b"}, fmt.Errorf("%w: tts down", ErrNoOutput))
	if failed.Completed || !failed.NoOutput || failed.Error == "" {
		t.Fatalf("unexpected failure status %+v", failed)
	}
}
