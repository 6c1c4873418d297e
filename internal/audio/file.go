package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedFormat is returned for files that are neither WAV nor MP3.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Load reads a WAV or MP3 file, downmixes it to mono and resamples it to
// rate. A rate of zero keeps the file's own rate.
func Load(path string, rate int) (Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	var buf Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		buf, err = decodeWAV(file)
	case ".mp3":
		buf, err = decodeMP3(file)
	default:
		return Buffer{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return Buffer{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if rate <= 0 {
		return buf, nil
	}
	return Resample(buf, rate)
}

func decodeWAV(r io.ReadSeeker) (Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Buffer{}, errors.New("invalid wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, err
	}
	channels := int(dec.NumChans)
	if channels <= 0 {
		return Buffer{}, errors.New("wav file declares no channels")
	}
	scale := float32(int(1) << (int(dec.BitDepth) - 1))
	frames := len(pcm.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(pcm.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}
	return Buffer{Samples: samples, SampleRate: int(dec.SampleRate)}, nil
}

// decodeMP3 relies on go-mp3 always producing interleaved 16-bit stereo.
func decodeMP3(r io.Reader) (Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return Buffer{}, err
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return Buffer{}, err
	}
	frames := len(data) / 4
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(data[i*4:]))
		right := int16(binary.LittleEndian.Uint16(data[i*4+2:]))
		samples[i] = (float32(left) + float32(right)) / 2 / pcmScale
	}
	return Buffer{Samples: samples, SampleRate: dec.SampleRate()}, nil
}

// WriteWAV stores buf as a mono 16-bit WAV file.
func WriteWAV(path string, buf Buffer) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := EncodeWAV(file, buf); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// EncodeWAV writes buf as mono 16-bit WAV into w.
func EncodeWAV(w io.WriteSeeker, buf Buffer) error {
	pcm := ToPCM16(buf.Samples)
	intBuf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.SampleRate},
		Data:           make([]int, len(pcm)),
		SourceBitDepth: 16,
	}
	for i, s := range pcm {
		intBuf.Data[i] = int(s)
	}

	enc := wav.NewEncoder(w, buf.SampleRate, 16, 1, 1)
	if err := enc.Write(intBuf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
