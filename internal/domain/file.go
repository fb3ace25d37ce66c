package domain

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// OpenFunc returns a fresh reader over a file's content.
type OpenFunc func() (io.ReadCloser, error)

// FileHandle is an opaque, immutable reference to a file selected for upload.
type FileHandle struct {
	Name      string
	Size      int64
	MediaType string
	open      OpenFunc
}

func NewFileHandle(name string, size int64, mediaType string, open OpenFunc) FileHandle {
	return FileHandle{
		Name:      name,
		Size:      size,
		MediaType: mediaType,
		open:      open,
	}
}

// NewMemoryFile wraps in-memory content, e.g. a multipart part read by the API.
func NewMemoryFile(name string, mediaType string, content []byte) FileHandle {
	data := append([]byte(nil), content...)
	return NewFileHandle(name, int64(len(data)), mediaType, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// NewLocalFile references a file on disk. Content is opened lazily on upload.
func NewLocalFile(path string) (FileHandle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileHandle{}, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	if info.IsDir() {
		return FileHandle{}, fmt.Errorf("%w: %q is a directory", ErrValidation, path)
	}

	return NewFileHandle(filepath.Base(path), info.Size(), "", func() (io.ReadCloser, error) {
		return os.Open(path)
	}), nil
}

func (f FileHandle) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %q has no content", f.Name)
	}
	return f.open()
}

// Extension returns the lower-cased text after the final dot, or "" when the
// name has no dot or ends with one.
func (f FileHandle) Extension() string {
	idx := strings.LastIndex(f.Name, ".")
	if idx < 0 || idx == len(f.Name)-1 {
		return ""
	}
	return strings.ToLower(f.Name[idx+1:])
}
