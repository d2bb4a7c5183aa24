package core

// upload_reader.go reads import files from request bodies and local files.
//
// Uploads are read through a counting reader capped one byte past the size
// limit, so an oversized file is detected without buffering all of it.

import (
	"fmt"
	"io"
)

// DefaultMaxFileSize is the upload limit when none is configured.
const DefaultMaxFileSize = 20 << 20

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 when unknown
}

// NewCountingReader returns a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage, or 0 when the total
// is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}

// ReadUpload reads an import file of at most maxSize bytes. maxSize <= 0
// uses DefaultMaxFileSize. Fails with ErrFileTooLarge or ErrEmptyFile.
func ReadUpload(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	cr := NewCountingReader(io.LimitReader(r, maxSize+1), maxSize)
	data, err := io.ReadAll(cr)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if cr.BytesRead > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, maxSize)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	return data, nil
}
