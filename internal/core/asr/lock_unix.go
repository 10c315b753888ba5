//go:build !windows

package asr

import (
	"fmt"
	"os"
	"syscall"
)

// fileLock is the cross-process advisory lock keyed by model name (spec
// §4.4: "a cross-process advisory file lock keyed by model name to
// guarantee at-most-one concurrent download"). Built on flock(2), which is
// available on every unix duasub targets.
type fileLock struct {
	f *os.File
}

// newFileLock opens (creating if needed) the lock file for a model name
// under cacheDir. It does not itself acquire the lock.
func newFileLock(cacheDir, modelName string) (*fileLock, error) {
	path := fmt.Sprintf("%s/.%s.lock", cacheDir, modelName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

// TryLockExclusive attempts a non-blocking exclusive lock. ok=false with
// err=nil means another process holds it (spec step 4: "would block").
func (l *fileLock) TryLockExclusive() (ok bool, err error) {
	err = syscall.Flock(int(l.f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == syscall.EWOULDBLOCK {
		return false, nil
	}
	return false, err
}

// WaitAndRelease blocks until the exclusive lock is acquired, then
// releases it immediately — used to wait out another process's download
// before re-probing the cache (spec step 4: "wait for the lock... then
// re-probe cache and load").
func (l *fileLock) WaitAndRelease() error {
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}

// Unlock releases an exclusive lock held by TryLockExclusive.
func (l *fileLock) Unlock() error {
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}

// Close releases the underlying file handle.
func (l *fileLock) Close() error {
	return l.f.Close()
}

// platformSupportsAdvisoryLock reports whether file locking is usable on
// this platform. Always true on unix; see lock_other.go for the fallback.
const platformSupportsAdvisoryLock = true
