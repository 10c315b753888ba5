//go:build windows

package asr

import (
	"fmt"
	"os"
)

// fileLock on non-unix platforms falls back to existence-based locking: it
// cannot coordinate true advisory locks across processes, so duasub only
// guarantees at-most-one-download within this process (via Gateway's
// sync.Mutex) and best-effort avoidance across processes by waiting until
// another process's marker file is removed. This is a narrower
// guarantee than unix flock and is accepted as a platform limitation.
type fileLock struct {
	path string
	f    *os.File
}

func newFileLock(cacheDir, modelName string) (*fileLock, error) {
	path := fmt.Sprintf("%s\\.%s.lock", cacheDir, modelName)
	return &fileLock{path: path}, nil
}

func (l *fileLock) TryLockExclusive() (ok bool, err error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	l.f = f
	return true, nil
}

func (l *fileLock) WaitAndRelease() error {
	// Best effort: poll for the marker file to disappear.
	for {
		if _, err := os.Stat(l.path); os.IsNotExist(err) {
			return nil
		}
	}
}

func (l *fileLock) Unlock() error {
	if l.f != nil {
		l.f.Close()
	}
	return os.Remove(l.path)
}

func (l *fileLock) Close() error {
	if l.f != nil {
		return l.f.Close()
	}
	return nil
}

const platformSupportsAdvisoryLock = false
