package device

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/lexiqai/voxrecorder/internal/audio"
	"github.com/lexiqai/voxrecorder/internal/config"
)

func writeTestWAV(t *testing.T, samples []int16, rate int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	if err := audio.EncodeWAV(f, samples, audio.Format{SampleRate: rate, BitDepth: 16, NumChannels: 1}); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return path
}

func TestWAVFileSource_Blocks(t *testing.T) {
	samples := []int16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	path := writeTestWAV(t, samples, 10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	src, err := OpenWAVFile(path, 4, base)
	if err != nil {
		t.Fatalf("OpenWAVFile failed: %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 10 {
		t.Errorf("Expected sample rate 10, got %d", src.SampleRate())
	}

	tests := []struct {
		want []int16
		at   time.Duration
	}{
		{[]int16{1, 2, 3, 4}, 400 * time.Millisecond},
		{[]int16{5, 6, 7, 8}, 800 * time.Millisecond},
		{[]int16{9, 10}, time.Second},
	}

	ctx := context.Background()
	for i, tt := range tests {
		block, err := src.ReadBlock(ctx)
		if err != nil {
			t.Fatalf("block %d: ReadBlock failed: %v", i, err)
		}
		if !slices.Equal(block.Samples, tt.want) {
			t.Errorf("block %d: Expected %v, got %v", i, tt.want, block.Samples)
		}
		if got := block.At.Sub(base); got != tt.at {
			t.Errorf("block %d: Expected timestamp +%s, got +%s", i, tt.at, got)
		}
	}

	if _, err := src.ReadBlock(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after last block, got %v", err)
	}
}

func TestWAVFileSource_BlocksAreIndependent(t *testing.T) {
	src := NewSampleSource([]int16{1, 2, 3, 4}, 4, 2, time.Unix(0, 0))
	ctx := context.Background()

	first, _ := src.ReadBlock(ctx)
	first.Samples[0] = 99
	second, _ := src.ReadBlock(ctx)

	if second.Samples[0] != 3 {
		t.Errorf("Expected second block unaffected by writes to the first, got %v", second.Samples)
	}
	if src.samples[0] != 1 {
		t.Error("Expected source samples unaffected by writes to a returned block")
	}
}

func TestWAVFileSource_Closed(t *testing.T) {
	src := NewSampleSource([]int16{1, 2}, 8000, 2, time.Unix(0, 0))
	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := src.ReadBlock(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestWAVFileSource_CanceledContext(t *testing.T) {
	src := NewSampleSource([]int16{1, 2}, 8000, 2, time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.ReadBlock(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestOpen_InputFile(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 100), 8000)

	src, err := Open(&config.Config{InputFile: path, SampleRate: 8000, BlockSize: 10})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	if _, ok := src.(*WAVFileSource); !ok {
		t.Errorf("Expected *WAVFileSource, got %T", src)
	}
}

func TestOpen_InputFileRateMismatch(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 100), 16000)

	if _, err := Open(&config.Config{InputFile: path, SampleRate: 44100, BlockSize: 10}); err == nil {
		t.Error("Expected error for sample rate mismatch")
	}
}

func TestOpen_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.wav")
	if _, err := Open(&config.Config{InputFile: path, SampleRate: 8000, BlockSize: 10}); err == nil {
		t.Error("Expected error for missing input file")
	}
}
