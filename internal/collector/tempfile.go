package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// shmDir is preferred for scratch archives when present.
const shmDir = "/dev/shm"

// defaultTempDir returns /dev/shm when it is a writable directory, else os.TempDir.
func defaultTempDir() string {
	if fi, err := os.Stat(shmDir); err == nil && fi.IsDir() {
		if f, err := os.CreateTemp(shmDir, "kline-probe-*"); err == nil {
			name := f.Name()
			f.Close()
			os.Remove(name)
			return shmDir
		}
	}
	return os.TempDir()
}

// withTempFile creates a scratch file in dir, hands it to fn and removes it on every
// exit path, including a panic in fn.
func withTempFile(dir, pattern string, fn func(f *os.File) error) (err error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		if rmErr := os.Remove(f.Name()); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = fmt.Errorf("remove temp file: %w", rmErr)
		}
	}()

	return fn(f)
}

// fileSHA256 returns the hex SHA-256 digest of the file contents from offset 0.
func fileSHA256(f *os.File) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumMismatchError reports an archive whose digest differs from its sidecar.
type ChecksumMismatchError struct {
	File     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.File, e.Expected, e.Actual)
}

func digestsEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
