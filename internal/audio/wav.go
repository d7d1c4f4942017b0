package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE_FORMAT_PCM tag.
const wavFormatPCM = 1

// ErrUnsupportedFormat is returned for WAV parameters this package cannot
// encode or decode losslessly into 16-bit samples.
var ErrUnsupportedFormat = errors.New("unsupported WAV format")

// Format describes the PCM layout of a WAV file.
type Format struct {
	SampleRate  int
	BitDepth    int
	NumChannels int
}

// Validate checks that f describes mono 16-bit PCM at a positive rate.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrUnsupportedFormat, f.SampleRate)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("%w: bit depth %d (only 16-bit is supported)", ErrUnsupportedFormat, f.BitDepth)
	}
	if f.NumChannels != 1 {
		return fmt.Errorf("%w: channel count %d (only mono is supported)", ErrUnsupportedFormat, f.NumChannels)
	}
	return nil
}

// EncodeWAV writes samples as a self-contained PCM WAV stream (header plus
// payload) to w. The header sizes are patched on close, so w must be seekable.
func EncodeWAV(w io.WriteSeeker, samples []int16, f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}

	e := wav.NewEncoder(w, f.SampleRate, f.BitDepth, f.NumChannels, wavFormatPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	if err := e.Write(&goaudio.IntBuffer{
		Data: data,
		Format: &goaudio.Format{
			NumChannels: f.NumChannels,
			SampleRate:  f.SampleRate,
		},
		SourceBitDepth: f.BitDepth,
	}); err != nil {
		e.Close()
		return fmt.Errorf("writing wav samples failed: %w", err)
	}

	if err := e.Close(); err != nil {
		return fmt.Errorf("finalizing wav header failed: %w", err)
	}
	return nil
}

// DecodeWAV reads a mono 16-bit PCM WAV stream back into samples.
func DecodeWAV(r io.ReadSeeker) ([]int16, Format, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, Format{}, errors.New("invalid WAV file")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to read PCM buffer: %w", err)
	}

	f := Format{
		SampleRate:  int(d.SampleRate),
		BitDepth:    int(d.BitDepth),
		NumChannels: int(d.NumChans),
	}
	if err := f.Validate(); err != nil {
		return nil, f, err
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, f, nil
}

// DecodeWAVFile opens path and decodes it with DecodeWAV.
func DecodeWAVFile(path string) ([]int16, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return DecodeWAV(f)
}
