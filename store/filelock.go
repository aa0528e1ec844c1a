package store

import (
	"fmt"
	"os"
	"time"
)

const (
	lockRetries    = 50
	lockRetryDelay = 100 * time.Millisecond
	lockStaleAfter = 30 * time.Second
)

// fileLock coordinates access to the store file across processes using a
// sidecar ".lock" file created with O_EXCL.
type fileLock struct {
	file *os.File
	path string
}

// acquireFileLock blocks until the lock for storePath is held, reclaiming
// locks older than lockStaleAfter from crashed processes.
func acquireFileLock(storePath string) (*fileLock, error) {
	lockPath := storePath + ".lock"

	for i := 0; i < lockRetries; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{file: f, path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire store lock: %w", err)
		}

		// Held by someone else; reclaim if stale, otherwise wait.
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
				return nil, fmt.Errorf("failed to remove stale store lock %s: %w", lockPath, remErr)
			}
			continue
		}
		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf("timed out waiting for store lock %s", lockPath)
}

func (l *fileLock) release() error {
	if l.file != nil {
		l.file.Close()
	}
	return os.Remove(l.path)
}
