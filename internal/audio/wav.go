package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when a file does not carry a RIFF/WAVE header.
var ErrInvalidWAV = errors.New("invalid wav file")

// Info summarises a WAV file header.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Probe opens path and validates its header. Duration is best effort: a
// recorder that died before rewriting the header leaves it at zero.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}
	info := Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if d, err := dec.Duration(); err == nil {
		info.Duration = d
	}
	return info, nil
}

// DecodeFileToFloat32 reads a PCM WAV file into mono float32 samples
// normalised to [-1, 1]. Multi-channel input is averaged down to one channel.
func DecodeFileToFloat32(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil {
		return nil, 0, errors.New("empty wav buffer")
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	channels := int(dec.NumChans)
	if channels <= 0 && buf.Format != nil {
		channels = buf.Format.NumChannels
	}
	if channels <= 0 {
		channels = 1
	}
	out := Downmix(buf.Data, channels, float32(int(1)<<(bitDepth-1)))
	sr := int(dec.SampleRate)
	if sr == 0 && buf.Format != nil {
		sr = buf.Format.SampleRate
	}
	if sr == 0 {
		sr = 16000
	}
	return out, sr, nil
}

// Downmix converts interleaved integer frames to mono float32 by averaging
// the channels of each frame and dividing by scale. A trailing partial frame
// is dropped.
func Downmix(data []int, channels int, scale float32) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for _, v := range data[i*channels : (i+1)*channels] {
			sum += float32(v)
		}
		out[i] = sum / float32(channels) / scale
	}
	return out
}

// WritePCM16 encodes signed 16-bit samples as a WAV file at path.
func WritePCM16(path string, samples []int16, sampleRate, channels int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer file.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
