//go:build unix

package store

import (
	"fmt"
	"os"
)

// checkFilePermissions verifies a file has owner-only access (0600 on Unix).
func checkFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if mode := info.Mode().Perm(); mode != 0600 {
		return fmt.Errorf("%w: %s has %04o, want 0600", ErrInvalidPermissions, path, mode)
	}
	return nil
}

func setFilePermissions(path string) error {
	return os.Chmod(path, 0600)
}
