package config

import (
	"os"
	"path/filepath"
)

const lockFileName = ".lock"

// FileLock provides file-based locking for cross-process synchronization.
// It uses a separate lock file rather than locking the data file directly,
// so it can guard a whole directory (e.g. the persistence store's sessions
// directory) rather than a single path.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a new FileLock guarding the given directory.
func NewFileLock(dir string) *FileLock {
	return &FileLock{
		path: filepath.Join(dir, lockFileName),
	}
}
