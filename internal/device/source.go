// Package device provides the blocking block readers the capture loop consumes.
//
// A Source hands out one Block per call. Each Block owns its sample slice;
// the source never writes to a slice it has already returned.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lexiqai/voxrecorder/internal/config"
)

// ErrEmptyBlock is returned when a read completes without any samples.
// It is a read failure, never silence.
var ErrEmptyBlock = errors.New("device returned an empty block")

// ErrClosed is returned by reads after Close.
var ErrClosed = errors.New("device is closed")

// Block is one fixed-size read from the input, stamped with the time the
// read completed.
type Block struct {
	Samples []int16
	At      time.Time
}

// Source is a blocking reader of Blocks. ReadBlock returns io.EOF when a
// finite input is exhausted.
type Source interface {
	ReadBlock(ctx context.Context) (Block, error)
	Close() error
}

// Reopener is implemented by sources that can recover from a failed stream
// by closing and opening it again.
type Reopener interface {
	Reopen(ctx context.Context) error
}

// StdinInput selects raw PCM from standard input as VOX_INPUT_FILE.
const StdinInput = "-"

// Open returns the source selected by cfg: raw PCM on stdin for "-", a WAV
// file replay for any other InputFile, otherwise the live capture device.
func Open(cfg *config.Config) (Source, error) {
	switch cfg.InputFile {
	case "":
		return OpenPortAudio(PortAudioConfig{
			SampleRate: cfg.SampleRate,
			BlockSize:  cfg.BlockSize,
			Device:     cfg.Device,
		})
	case StdinInput:
		return NewRawPCMSource(os.Stdin, cfg.BlockSize), nil
	default:
		src, err := OpenWAVFile(cfg.InputFile, cfg.BlockSize, time.Now())
		if err != nil {
			return nil, err
		}
		if src.SampleRate() != cfg.SampleRate {
			return nil, fmt.Errorf("input file %s is %d Hz, configured rate is %d Hz",
				cfg.InputFile, src.SampleRate(), cfg.SampleRate)
		}
		return src, nil
	}
}
