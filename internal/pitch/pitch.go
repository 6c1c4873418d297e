// Package pitch extracts F0 contours and moves a source contour into a
// reference speaker's register.
package pitch

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/loqalabs/loqa-vc/internal/model"
)

const (
	logEpsilon = 1e-5
	// Frames at or below this frequency are unvoiced.
	voicedFloor = 1
)

// Voiced reports whether an F0 value carries pitch.
func Voiced(f0 float32) bool { return f0 > voicedFloor }

// MedianLogF0 returns the lower median of log(f0+eps) over voiced frames.
// ok is false when no frame is voiced.
func MedianLogF0(f0 []float32) (median float64, ok bool) {
	logs := make([]float64, 0, len(f0))
	for _, v := range f0 {
		if Voiced(v) {
			logs = append(logs, math.Log(float64(v)+logEpsilon))
		}
	}
	if len(logs) == 0 {
		return 0, false
	}
	slices.Sort(logs)
	return logs[(len(logs)-1)/2], true
}

// SemitoneRatio is the frequency ratio of a shift by n semitones.
func SemitoneRatio(n float64) float64 {
	return math.Pow(2, n/12)
}

// Shift returns a copy of src with voiced frames moved into ref's register
// (when autoAdjust is set and both curves have voiced frames) and then
// transposed by semitones. Unvoiced frames are copied unchanged.
func Shift(ref, src []float32, autoAdjust bool, semitones float64) []float32 {
	out := slices.Clone(src)
	var delta float64
	if autoAdjust {
		refMedian, refOK := MedianLogF0(ref)
		srcMedian, srcOK := MedianLogF0(src)
		if refOK && srcOK {
			delta = refMedian - srcMedian
		} else {
			autoAdjust = false
		}
	}
	if !autoAdjust && semitones == 0 {
		return out
	}
	ratio := SemitoneRatio(semitones)
	for i, v := range src {
		if !Voiced(v) {
			continue
		}
		f := float64(v)
		if autoAdjust {
			f = math.Exp(math.Log(f+logEpsilon) + delta)
		}
		out[i] = float32(f * ratio)
	}
	return out
}

// Align resamples f0 to n frames by nearest frame.
func Align(f0 []float32, n int) []float32 {
	if n <= 0 {
		return nil
	}
	if len(f0) == n {
		return slices.Clone(f0)
	}
	out := make([]float32, n)
	if len(f0) == 0 {
		return out
	}
	scale := float64(len(f0)) / float64(n)
	for i := range out {
		idx := int((float64(i) + 0.5) * scale)
		out[i] = f0[min(idx, len(f0)-1)]
	}
	return out
}

// Options controls one transfer.
type Options struct {
	AutoAdjust bool
	Semitones  float64
	// Frame counts the curves are aligned to; zero keeps the estimator's rate.
	ReferenceFrames int
	SourceFrames    int
}

// Result holds the raw reference contour and the transferred source contour.
type Result struct {
	Reference []float32
	Source    []float32
}

// Transfer runs the pitch estimator on both buffers and shifts the source.
type Transfer struct {
	estimator model.PitchEstimator
	threshold float64
}

func NewTransfer(estimator model.PitchEstimator, threshold float64) *Transfer {
	return &Transfer{estimator: estimator, threshold: threshold}
}

// Run expects both buffers at the estimator's sample rate.
func (t *Transfer) Run(ctx context.Context, reference, source []float32, opts Options) (Result, error) {
	refF0, err := t.estimator.Estimate(ctx, reference, t.threshold)
	if err != nil {
		return Result{}, fmt.Errorf("estimate reference f0: %w", err)
	}
	srcF0, err := t.estimator.Estimate(ctx, source, t.threshold)
	if err != nil {
		return Result{}, fmt.Errorf("estimate source f0: %w", err)
	}
	shifted := Shift(refF0, srcF0, opts.AutoAdjust, opts.Semitones)
	if opts.ReferenceFrames > 0 {
		refF0 = Align(refF0, opts.ReferenceFrames)
	}
	if opts.SourceFrames > 0 {
		shifted = Align(shifted, opts.SourceFrames)
	}
	return Result{Reference: refF0, Source: shifted}, nil
}
