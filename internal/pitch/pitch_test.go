package pitch

import (
	"context"
	"math"
	"testing"

	"github.com/loqalabs/loqa-vc/internal/model"
)

func TestShiftIdentity(t *testing.T) {
	src := []float32{0, 120.5, 130.25, 0.5, 140, 0}
	ref := []float32{200, 210, 0}
	out := Shift(ref, src, false, 0)
	for i := range src {
		if out[i] != src[i] {
			t.Fatalf("frame %d changed: %v -> %v", i, src[i], out[i])
		}
	}
	out[1] = 1
	if src[1] == 1 {
		t.Fatal("Shift must not alias its input")
	}
}

func TestMedianExcludesUnvoiced(t *testing.T) {
	ref := []float32{220, 230, 240}
	withGaps := []float32{0, 100, 0.3, 110, 0, 120, 1}
	voicedOnly := []float32{100, 110, 120}
	a := Shift(ref, withGaps, true, 0)
	b := Shift(ref, voicedOnly, true, 0)
	voiced := []int{1, 3, 5}
	for j, i := range voiced {
		if a[i] != b[j] {
			t.Fatalf("voiced frame %d: %v vs %v", i, a[i], b[j])
		}
	}
	for _, i := range []int{0, 2, 4, 6} {
		if a[i] != withGaps[i] {
			t.Fatalf("unvoiced frame %d changed to %v", i, a[i])
		}
	}
}

func TestAutoAdjustMovesRegister(t *testing.T) {
	ref := []float32{200, 200, 200}
	src := []float32{100, 0, 100}
	out := Shift(ref, src, true, 0)
	if math.Abs(float64(out[0])-200) > 1e-3 || math.Abs(float64(out[2])-200) > 1e-3 {
		t.Fatalf("expected source moved to 200 Hz, got %v", out)
	}
	if out[1] != 0 {
		t.Fatalf("unvoiced frame changed: %v", out[1])
	}
}

func TestLowerMedian(t *testing.T) {
	median, ok := MedianLogF0([]float32{0, 400, 100, 200, 300})
	if !ok {
		t.Fatal("expected voiced frames")
	}
	if want := math.Log(200 + logEpsilon); math.Abs(median-want) > 1e-12 {
		t.Fatalf("expected lower median %v, got %v", want, median)
	}
}

func TestNoVoicedFramesIsNoop(t *testing.T) {
	src := []float32{0, 0.5, 1, 0}
	out := Shift([]float32{200}, src, true, 0)
	for i := range src {
		if out[i] != src[i] {
			t.Fatalf("frame %d changed", i)
		}
	}
	out = Shift([]float32{0, 0}, []float32{150}, true, 0)
	if out[0] != 150 {
		t.Fatalf("unvoiced reference must disable auto adjust, got %v", out[0])
	}
	if _, ok := MedianLogF0(src); ok {
		t.Fatal("expected no median for unvoiced curve")
	}
}

func TestSemitoneShift(t *testing.T) {
	out := Shift(nil, []float32{110, 0, 220}, false, 12)
	if out[0] != 220 || out[1] != 0 || out[2] != 440 {
		t.Fatalf("unexpected octave shift %v", out)
	}
	out = Shift(nil, []float32{440}, false, -12)
	if out[0] != 220 {
		t.Fatalf("unexpected downward shift %v", out)
	}
}

func TestAlign(t *testing.T) {
	out := Align([]float32{1, 2, 3, 4}, 2)
	if len(out) != 2 || out[0] != 2 || out[1] != 4 {
		t.Fatalf("unexpected downsample %v", out)
	}
	out = Align([]float32{1, 2}, 4)
	if out[0] != 1 || out[1] != 1 || out[2] != 2 || out[3] != 2 {
		t.Fatalf("unexpected upsample %v", out)
	}
	if got := Align(nil, 3); len(got) != 3 {
		t.Fatalf("expected zero curve, got %v", got)
	}
}

func TestTransferRun(t *testing.T) {
	tone := func(n, period int) []float32 {
		out := make([]float32, n)
		for i := range out {
			if (i/period)%2 == 0 {
				out[i] = 0.5
			} else {
				out[i] = -0.5
			}
		}
		return out
	}
	transfer := NewTransfer(model.NewMockPitch(160, 16000), 0.03)
	res, err := transfer.Run(context.Background(), tone(1600, 20), tone(3200, 40), Options{AutoAdjust: true, SourceFrames: 10, ReferenceFrames: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Source) != 10 || len(res.Reference) != 5 {
		t.Fatalf("unexpected lengths %d/%d", len(res.Source), len(res.Reference))
	}
	refMedian, _ := MedianLogF0(res.Reference)
	srcMedian, _ := MedianLogF0(res.Source)
	if math.Abs(refMedian-srcMedian) > 1e-3 {
		t.Fatalf("expected registers to match: %v vs %v", refMedian, srcMedian)
	}
}
