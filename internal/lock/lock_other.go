//go:build !unix

package lock

import (
	"errors"
	"fmt"
	"os"
)

// TryAcquire creates path exclusively. A stale file left by a crashed process
// must be removed by hand.
func TryAcquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	return &Lock{
		path: path,
		release: func() error {
			f.Close()
			return os.Remove(path)
		},
	}, nil
}
