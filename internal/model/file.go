package model

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// DefaultMaxFileSizeMB is the maximum accepted document size.
	DefaultMaxFileSizeMB = 50
)

// DefaultAllowedContentTypes are the document types accepted by the OCR service.
var DefaultAllowedContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/bmp",
	"image/tiff",
	"application/pdf",
}

var contentTypesByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".pdf":  "application/pdf",
}

// SourceFile is the binary payload selected by the user. It is read only by the
// upload and can be opened more than once.
type SourceFile struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// NewPathSourceFile returns a source file backed by a file on disk.
func NewPathSourceFile(path string) (SourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SourceFile{}, fmt.Errorf("could not stat file: %w", err)
	}
	if info.IsDir() {
		return SourceFile{}, fmt.Errorf("%s is a directory: %w", path, ErrNotValid)
	}

	open := func() (io.ReadCloser, error) { return os.Open(path) }

	ct, err := detectContentType(path, open)
	if err != nil {
		return SourceFile{}, err
	}

	return SourceFile{
		Name:        filepath.Base(path),
		ContentType: ct,
		Size:        info.Size(),
		Open:        open,
	}, nil
}

// NewBytesSourceFile returns an in memory source file.
func NewBytesSourceFile(name string, data []byte) SourceFile {
	open := func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }
	ct, _ := detectContentType(name, open)

	return SourceFile{
		Name:        name,
		ContentType: ct,
		Size:        int64(len(data)),
		Open:        open,
	}
}

// FileLimits are the client side checks made before a file is enqueued.
type FileLimits struct {
	MaxSizeBytes        int64
	AllowedContentTypes []string
}

// DefaultFileLimits returns the limits enforced by the OCR service.
func DefaultFileLimits() FileLimits {
	return FileLimits{
		MaxSizeBytes:        DefaultMaxFileSizeMB * 1024 * 1024,
		AllowedContentTypes: DefaultAllowedContentTypes,
	}
}

// ValidateFile checks the file against the limits.
func ValidateFile(f SourceFile, limits FileLimits) error {
	if f.Open == nil {
		return fmt.Errorf("file %q has no content: %w", f.Name, ErrNotValid)
	}
	if f.Size <= 0 {
		return fmt.Errorf("file %q is empty: %w", f.Name, ErrNotValid)
	}
	if limits.MaxSizeBytes > 0 && f.Size > limits.MaxSizeBytes {
		return fmt.Errorf("file %q exceeds the size limit (%d > %d bytes): %w", f.Name, f.Size, limits.MaxSizeBytes, ErrNotValid)
	}
	if len(limits.AllowedContentTypes) > 0 && !slices.Contains(limits.AllowedContentTypes, f.ContentType) {
		return fmt.Errorf("file %q has an unsupported type %q: %w", f.Name, f.ContentType, ErrNotValid)
	}

	return nil
}

// detectContentType resolves the type by extension first and falls back to sniffing the content.
func detectContentType(name string, open func() (io.ReadCloser, error)) (string, error) {
	if ct, ok := contentTypesByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return ct, nil
	}

	r, err := open()
	if err != nil {
		return "", fmt.Errorf("could not open file: %w", err)
	}
	defer r.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("could not read file: %w", err)
	}

	ct := http.DetectContentType(head[:n])
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return ct, nil
}
