package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FormatDecoder decodes a binary workbook into a Table.
type FormatDecoder interface {
	Decode(data []byte) (*Table, error)
}

// FormatDecoderFunc adapts a function to FormatDecoder.
type FormatDecoderFunc func(data []byte) (*Table, error)

// Decode implements FormatDecoder.
func (f FormatDecoderFunc) Decode(data []byte) (*Table, error) { return f(data) }

var (
	formats   = make(map[string]FormatDecoder)
	formatsMu sync.RWMutex
)

// spreadsheetExtensions are workbook formats. Files with these extensions
// never fall back to delimited-text parsing. Legacy .xls and .ods have no
// decoder and fail with ErrDecoderUnavailable.
var spreadsheetExtensions = map[string]bool{
	".xls":  true,
	".xlsx": true,
	".xlsm": true,
	".ods":  true,
}

// IsSpreadsheetExtension reports whether ext (with dot) is a workbook format.
func IsSpreadsheetExtension(ext string) bool {
	return spreadsheetExtensions[strings.ToLower(ext)]
}

// RegisterFormat adds a decoder for a file extension such as ".xlsx".
// Panics if the extension is already registered.
func RegisterFormat(ext string, dec FormatDecoder) {
	formatsMu.Lock()
	defer formatsMu.Unlock()

	ext = strings.ToLower(ext)
	if _, exists := formats[ext]; exists {
		panic(fmt.Sprintf("format already registered: %s", ext))
	}
	formats[ext] = dec
}

// LookupFormat returns the decoder registered for ext.
func LookupFormat(ext string) (FormatDecoder, bool) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()

	dec, ok := formats[strings.ToLower(ext)]
	return dec, ok
}

// Formats returns the registered extensions, sorted.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()

	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// unregisterFormat removes a decoder. Used by tests.
func unregisterFormat(ext string) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	delete(formats, strings.ToLower(ext))
}
