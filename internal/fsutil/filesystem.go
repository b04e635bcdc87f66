// Package fsutil provides filesystem abstractions for testability.
package fsutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileSystem abstracts the file operations the exporter needs.
// Use OSFileSystem for production; MemoryFileSystem for testing.
type FileSystem interface {
	// Create creates or truncates the named file.
	Create(name string) (io.WriteCloser, error)

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

// Create creates the named file.
func (OSFileSystem) Create(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

// MkdirAll creates a directory path.
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// MemoryFileSystem keeps written files in memory for tests.
type MemoryFileSystem struct {
	mu    sync.Mutex
	files map[string]*bytes.Buffer
	dirs  map[string]bool
}

// NewMemoryFileSystem returns an empty in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		files: make(map[string]*bytes.Buffer),
		dirs:  make(map[string]bool),
	}
}

type memoryFile struct {
	buf *bytes.Buffer
}

func (f *memoryFile) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *memoryFile) Close() error                { return nil }

// Create creates an in-memory file.
func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := &bytes.Buffer{}
	m.files[filepath.Clean(name)] = buf
	return &memoryFile{buf: buf}, nil
}

// MkdirAll records the directory.
func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[filepath.Clean(path)] = true
	return nil
}

// ReadFile returns the contents of an in-memory file.
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.files[filepath.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", name)
	}
	return buf.Bytes(), nil
}

// Files lists the written file names.
func (m *MemoryFileSystem) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	return names
}
