// Package formats registers spreadsheet decoders with the core parser.
//
// Import it for side effects:
//
//	import _ "github.com/JonMunkholm/maintrack/internal/core/formats"
package formats

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/maintrack/internal/core"
)

func init() {
	core.RegisterFormat(".xlsx", core.FormatDecoderFunc(DecodeXLSX))
	core.RegisterFormat(".xlsm", core.FormatDecoderFunc(DecodeXLSX))
}

// DecodeXLSX reads the first worksheet of an Office Open XML workbook.
// Cells are read as displayed, except date-formatted cells, which are
// rendered as canonical date text whatever the workbook's number format.
func DecodeXLSX(data []byte) (*core.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	dates := newDateCells(f, sheet)
	for r := range rows {
		if r >= len(raw) {
			break
		}
		for c := range rows[r] {
			if c >= len(raw[r]) || raw[r][c] == rows[r][c] {
				continue
			}
			if d, ok := dates.format(c+1, r+1, raw[r][c]); ok {
				rows[r][c] = d
			}
		}
	}
	return core.TableFromGrid(rows), nil
}

// dateCells recognizes date-formatted numeric cells. Style lookups are
// cached by style index.
type dateCells struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	styles   map[int]bool
}

func newDateCells(f *excelize.File, sheet string) *dateCells {
	d := &dateCells{f: f, sheet: sheet, styles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		d.date1904 = *props.Date1904
	}
	return d
}

func (d *dateCells) format(col, row int, raw string) (string, bool) {
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", false
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", false
	}
	idx, err := d.f.GetCellStyle(d.sheet, name)
	if err != nil {
		return "", false
	}
	isDate, cached := d.styles[idx]
	if !cached {
		style, err := d.f.GetStyle(idx)
		isDate = err == nil && isDateStyle(style)
		d.styles[idx] = isDate
	}
	if !isDate {
		return "", false
	}
	t, err := excelize.ExcelDateToTime(serial, d.date1904)
	if err != nil {
		return "", false
	}
	return core.FormatDate(t), true
}

var (
	numFmtLiteral = regexp.MustCompile(`"[^"]*"|\[[^\]]*\]|\\.`)
	numFmtDate    = regexp.MustCompile(`[dDyY]`)
)

// isDateStyle reports whether a cell style carries a day or year component:
// the built-in date formats or a custom format with d or y tokens.
func isDateStyle(s *excelize.Style) bool {
	if s == nil {
		return false
	}
	switch id := s.NumFmt; {
	case id >= 14 && id <= 17, id == 22, id >= 27 && id <= 36, id >= 50 && id <= 58:
		return true
	}
	if s.CustomNumFmt == nil {
		return false
	}
	return numFmtDate.MatchString(numFmtLiteral.ReplaceAllString(*s.CustomNumFmt, ""))
}
