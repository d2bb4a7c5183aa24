package core

// parse.go turns raw import files into a normalized Table.
//
// Delimited text is split into lines, the delimiter is detected from the
// first line, and every header is normalized (lowercase, no diacritics,
// single spaces) so rows can be looked up by any spelling of a label.
// Spreadsheet workbooks go through decoders registered in registry.go.

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Row is one data row keyed by normalized header name.
type Row map[string]string

// Pick returns the cell under label, normalizing label first.
// Returns "" for an empty label or a missing column.
func (r Row) Pick(label string) string {
	if label == "" {
		return ""
	}
	return r[NormalizeHeader(label)]
}

// Table is a parsed import file: a normalized header and its rows.
type Table struct {
	Header []string `json:"header"`
	Rows   []Row    `json:"rows"`
}

// HasHeader reports whether the normalized form of label is a column.
func (t *Table) HasHeader(label string) bool {
	want := NormalizeHeader(label)
	for _, h := range t.Header {
		if h == want {
			return true
		}
	}
	return false
}

var lineBreakPattern = regexp.MustCompile(`\r\n|\n|\r`)

// NormalizeHeader lowercases h, strips diacritics, collapses internal
// whitespace to single spaces and trims.
func NormalizeHeader(h string) string {
	s := strings.ToLower(strings.TrimSpace(h))
	if !isASCII(s) {
		stripped, _, err := transform.String(
			transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
		if err == nil {
			s = stripped
		}
	}
	return collapseSpaces(s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Parse decodes an import file. The file extension selects a registered
// spreadsheet decoder; anything else is treated as delimited text.
// Spreadsheet formats without a registered decoder fail with
// ErrDecoderUnavailable.
func Parse(data []byte, fileName string) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	if dec, ok := LookupFormat(ext); ok {
		t, err := dec.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", ext, err)
		}
		return t, nil
	}
	if IsSpreadsheetExtension(ext) {
		return nil, fmt.Errorf("%w: %s", ErrDecoderUnavailable, ext)
	}

	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decode text: %w", err)
	}
	return ParseDelimited(text, DetectDelimiter), nil
}

// ParseDelimited parses delimited text. Blank lines are dropped; detect
// chooses how lines are split based on the first line.
func ParseDelimited(text string, detect DelimiterDetector) *Table {
	var lines []string
	for _, l := range lineBreakPattern.Split(text, -1) {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return &Table{Header: []string{}, Rows: []Row{}}
	}

	splitter := detect(lines[0])
	rawHeader := splitter.SplitLine(lines[0])
	header := make([]string, len(rawHeader))
	for i, h := range rawHeader {
		header[i] = NormalizeHeader(h)
	}

	rows := make([]Row, 0, len(lines)-1)
	for _, line := range lines[1:] {
		cells := splitter.SplitLine(line)
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(cells) {
				row[h] = cells[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}

	return &Table{Header: header, Rows: rows}
}

// TableFromGrid builds a Table from spreadsheet cells: the first row is the
// header, cells are trimmed, and rows with every cell blank are dropped.
func TableFromGrid(grid [][]string) *Table {
	if len(grid) == 0 {
		return &Table{Header: []string{}, Rows: []Row{}}
	}
	header := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		header[i] = NormalizeHeader(h)
	}

	rows := make([]Row, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		blank := true
		for _, c := range cells {
			if strings.TrimSpace(c) != "" {
				blank = false
				break
			}
		}
		if blank {
			continue
		}
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(cells) {
				row[h] = strings.TrimSpace(cells[i])
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return &Table{Header: header, Rows: rows}
}

// =============================================================================
// Delimiter detection
// =============================================================================

// LineSplitter splits one line of text into cells.
type LineSplitter interface {
	SplitLine(line string) []string
}

// DelimiterDetector picks a LineSplitter from the first line of a file.
// Alternative layouts (fixed-width, for example) plug in here.
type DelimiterDetector func(firstLine string) LineSplitter

// DetectDelimiter counts tabs, semicolons and commas in the first line.
// Any tab wins unless semicolons outnumber it, since commas inside
// tab-separated exports are usually decimal or free-text commas. Semicolon
// must strictly outnumber commas.
// A line with none of them but several whitespace-separated tokens is split
// on whitespace. Comma is the fallback.
func DetectDelimiter(firstLine string) LineSplitter {
	tabs := strings.Count(firstLine, "\t")
	semis := strings.Count(firstLine, ";")
	commas := strings.Count(firstLine, ",")

	switch {
	case tabs > 0 && tabs >= semis:
		return QuotedSplitter{Delimiter: '\t'}
	case semis > 0 && semis > commas:
		return QuotedSplitter{Delimiter: ';'}
	case commas > 0:
		return QuotedSplitter{Delimiter: ','}
	case len(strings.Fields(firstLine)) > 1:
		return WhitespaceSplitter{}
	default:
		return QuotedSplitter{Delimiter: ','}
	}
}

// QuotedSplitter splits on a single delimiter, honoring double-quoted cells
// with "" as an escaped quote. Cells are trimmed.
type QuotedSplitter struct {
	Delimiter rune
}

// SplitLine implements LineSplitter.
func (q QuotedSplitter) SplitLine(line string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	rs := []rune(line)

	for i := 0; i < len(rs); i++ {
		ch := rs[i]
		if ch == '"' {
			if inQuotes && i+1 < len(rs) && rs[i+1] == '"' {
				cur.WriteRune('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
			continue
		}
		if ch == q.Delimiter && !inQuotes {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteRune(ch)
	}
	return append(out, strings.TrimSpace(cur.String()))
}

// WhitespaceSplitter splits on runs of whitespace.
type WhitespaceSplitter struct{}

// SplitLine implements LineSplitter.
func (WhitespaceSplitter) SplitLine(line string) []string {
	return strings.Fields(line)
}

// =============================================================================
// Text decoding
// =============================================================================

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText converts file bytes to a string. UTF-16 files are recognized by
// their BOM, the UTF-8 BOM is dropped, and bytes that are not valid UTF-8 are
// read as Windows-1252 (the usual encoding of spreadsheet CSV exports).
func decodeText(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		out, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.ExpectBOM).NewDecoder().Bytes(data)
		return string(out), err
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		out, err := xunicode.UTF16(xunicode.BigEndian, xunicode.ExpectBOM).NewDecoder().Bytes(data)
		return string(out), err
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return string(out), nil
}
