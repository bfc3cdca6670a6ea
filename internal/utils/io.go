package utils

import (
	"fmt"
	"io"
	"os"
)

// MaxInputSize bounds what ReadStdin accepts. Secrets, keys and change lists
// are all far smaller.
const MaxInputSize = 1 << 20

// ReadStdin reads piped input. It refuses an interactive terminal, empty
// input and anything larger than MaxInputSize.
func ReadStdin() ([]byte, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat stdin: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice != 0 {
		return nil, fmt.Errorf("no data provided on stdin (hint: pipe the input or pass a file)")
	}
	return readLimited(os.Stdin)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read from stdin: %w", err)
	}
	switch {
	case len(data) == 0:
		return nil, fmt.Errorf("stdin is empty")
	case len(data) > MaxInputSize:
		return nil, fmt.Errorf("input exceeds %d bytes", MaxInputSize)
	}
	return data, nil
}
