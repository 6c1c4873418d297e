package audio

import (
	"path/filepath"
	"testing"
	"time"
)

func TestToPCM16ScalesAndSaturates(t *testing.T) {
	pcm := ToPCM16([]float32{0, 0.5, -0.5, -1, 1, 2})
	want := []int16{0, 16384, -16384, -32768, 32767, 32767}
	for i := range want {
		if pcm[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d", i, pcm[i], want[i])
		}
	}
}

func TestPCM16BytesRoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.75}
	out, err := FromPCM16Bytes(PCM16Bytes(ToPCM16(in)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: got %v want %v", i, out[i], in[i])
		}
	}
	if _, err := FromPCM16Bytes([]byte{1}); err == nil {
		t.Fatal("expected error for odd payload")
	}
}

func TestClip(t *testing.T) {
	buf := Buffer{Samples: make([]float32, 50), SampleRate: 10}
	clipped := buf.Clip(2)
	if clipped.Len() != 20 {
		t.Fatalf("expected 20 samples, got %d", clipped.Len())
	}
	if buf.Clip(10).Len() != 50 {
		t.Fatal("clip beyond length must keep the buffer")
	}
	if clipped.Duration() != 2*time.Second {
		t.Fatalf("unexpected duration %v", clipped.Duration())
	}
}

func TestConcat(t *testing.T) {
	out := Concat([][]float32{{1, 2}, nil, {3}})
	if len(out) != 3 || out[0] != 1 || out[2] != 3 {
		t.Fatalf("unexpected concat %v", out)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	in := Buffer{Samples: []float32{0, 0.5, -0.5, 0.25}, SampleRate: 16000}
	if err := WriteWAV(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := Load(path, 16000)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.SampleRate != 16000 || out.Len() != in.Len() {
		t.Fatalf("unexpected buffer rate=%d len=%d", out.SampleRate, out.Len())
	}
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Fatalf("sample %d: got %v want %v", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ogg")
	if err := WriteWAV(path, Buffer{Samples: []float32{0}, SampleRate: 8000}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path, 8000); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestResampleSameRateCopies(t *testing.T) {
	in := Buffer{Samples: []float32{1, 2, 3}, SampleRate: 16000}
	out, err := Resample(in, 16000)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	out.Samples[0] = 9
	if in.Samples[0] != 1 {
		t.Fatal("resample must not alias the input")
	}
}
