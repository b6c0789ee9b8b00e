package store

import (
	"errors"
	"os"
	"strings"
)

// TailLog returns the last n lines of the log sink.
func TailLog(path string, n int) (string, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotAvailable
		}
		return "", err
	}
	lines := strings.Split(strings.TrimRight(string(blob), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}
