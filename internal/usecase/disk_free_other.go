//go:build !linux && !darwin

package usecase

import "errors"

// diskFreeBytes is unsupported off Linux and macOS; the disk guard logs the
// error and never flags the disk as low.
func diskFreeBytes(path string) (int64, error) {
	return 0, errors.New("disk space check not supported on this platform")
}
