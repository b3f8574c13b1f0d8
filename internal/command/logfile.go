package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// logFile is an append-only file that rotates by size: the live file moves
// to <path>.1, older backups shift up by one, and at most maxFiles backups
// are kept. Safe for concurrent use.
type logFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxFiles int
	size     int64
	file     *os.File
}

// openLogFile opens path for appending, creating it and its directory as
// needed. maxBytes below 1KiB is raised to 1KiB; a negative maxFiles is
// treated as zero, meaning the file is truncated on rotation.
func openLogFile(path string, maxBytes int64, maxFiles int) (*logFile, error) {
	if maxBytes < 1024 {
		maxBytes = 1024
	}
	if maxFiles < 0 {
		maxFiles = 0
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("log file: mkdir %s: %w", dir, err)
		}
	}
	l := &logFile{path: path, maxBytes: maxBytes, maxFiles: maxFiles}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *logFile) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("log file: open %s: %w", l.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("log file: stat %s: %w", l.path, err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// Write appends p, rotating first if p would push the file past its limit.
// A single write is never split across files.
func (l *logFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return 0, os.ErrClosed
	}
	if l.size > 0 && l.size+int64(len(p)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			return 0, fmt.Errorf("log file: rotate: %w", err)
		}
	}
	n, err := l.file.Write(p)
	l.size += int64(n)
	return n, err
}

// Close closes the underlying file. Further writes fail.
func (l *logFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *logFile) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if l.maxFiles == 0 {
		_ = os.Remove(l.path)
	} else {
		// the rename onto .maxFiles drops the oldest backup
		for n := l.maxFiles - 1; n >= 1; n-- {
			_ = os.Rename(l.backup(n), l.backup(n+1))
		}
		_ = os.Rename(l.path, l.backup(1))
	}
	return l.open()
}

func (l *logFile) backup(n int) string {
	return l.path + "." + strconv.Itoa(n)
}
