// Package persist writes closed segments to WAV files off the capture path.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout formats segment start and end times in file names.
const TimestampLayout = "20060102150405"

// Namer builds output paths of the form
// <dir>/<prefix>-<version>-<start>-<end>.wav.
type Namer struct {
	Dir     string
	Prefix  string
	Version string
}

// Name returns the path for a segment that started and closed at the given times.
func (n Namer) Name(startedAt, closedAt time.Time) string {
	base := fmt.Sprintf("%s-%s-%s-%s.wav",
		n.Prefix, n.Version, startedAt.Format(TimestampLayout), closedAt.Format(TimestampLayout))
	return filepath.Join(n.Dir, base)
}

// Unique returns path if nothing exists there, otherwise the first free
// path with a -N suffix before the extension.
func Unique(path string) (string, error) {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return path, nil
	} else if err != nil {
		return "", err
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}
