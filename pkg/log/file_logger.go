package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileOption configures a FileLogger.
type FileOption func(*FileLogger)

// WithMaxSize rotates the capture once it grows past n bytes. The previous
// file is kept as path.1, replacing any older one. Zero disables rotation.
func WithMaxSize(n int64) FileOption {
	return func(l *FileLogger) { l.maxSize = n }
}

// FileLogger appends events to a capture file.
type FileLogger struct {
	path    string
	maxSize int64

	mu        sync.Mutex
	file      *os.File
	size      int64
	rotations int
	closed    bool
}

// NewFileLogger opens the capture at path for appending. A new or empty file
// gets a capture header; an existing one must already carry a valid header.
func NewFileLogger(path string, opts ...FileOption) (*FileLogger, error) {
	l := &FileLogger{path: path}
	for _, o := range opts {
		o(l)
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if info.Size() == 0 {
		if _, err := f.Write(captureHeader()); err != nil {
			f.Close()
			return err
		}
		l.size = int64(headerSize)
	} else {
		if err := readHeader(io.NewSectionReader(f, 0, int64(headerSize))); err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", l.path, err)
		}
		l.size = info.Size()
	}
	l.file = f
	return nil
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l.rotations++
	return l.open()
}

// Log appends event. Failures are dropped so that capture never disturbs the
// protocol path.
func (l *FileLogger) Log(event Event) {
	data, err := MarshalEvent(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.file == nil {
		return
	}
	if l.maxSize > 0 && l.size > int64(headerSize) && l.size+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			l.file = nil
			return
		}
	}
	n, _ := l.file.Write(data)
	l.size += int64(n)
}

// Rotations reports how many times the capture has been rotated.
func (l *FileLogger) Rotations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotations
}

// Close closes the file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
