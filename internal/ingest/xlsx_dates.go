package ingest

import (
	"strconv"
	"strings"

	"automl-backend/internal/table"

	"github.com/xuri/excelize/v2"
)

// Built-in number formats that display a date or a time.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true, 21: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 32: true, 33: true, 34: true, 35: true, 36: true,
	45: true, 46: true, 47: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

// dateCells finds cells holding an Excel serial date, caching the verdict
// per style id.
type dateCells struct {
	book     *excelize.File
	sheet    string
	date1904 bool
	styles   map[int]bool
}

func newDateCells(book *excelize.File, sheet string) *dateCells {
	d := &dateCells{book: book, sheet: sheet, styles: make(map[int]bool)}
	if props, err := book.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		d.date1904 = *props.Date1904
	}
	return d
}

// render returns the datetime text for a numeric cell with a date format.
func (d *dateCells) render(cell, value string) (string, bool) {
	serial, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "", false
	}
	styleId, err := d.book.GetCellStyle(d.sheet, cell)
	if err != nil || styleId == 0 {
		return "", false
	}

	isDate, ok := d.styles[styleId]
	if !ok {
		isDate = d.isDateStyle(styleId)
		d.styles[styleId] = isDate
	}
	if !isDate {
		return "", false
	}

	ts, err := excelize.ExcelDateToTime(serial, d.date1904)
	if err != nil {
		return "", false
	}
	return ts.Format(table.DatetimeLayout), true
}

func (d *dateCells) isDateStyle(styleId int) bool {
	style, err := d.book.GetStyle(styleId)
	if err != nil || style == nil {
		return false
	}
	if style.CustomNumFmt != nil {
		return isDateFormat(*style.CustomNumFmt)
	}
	return builtinDateFormats[style.NumFmt]
}

// isDateFormat reports whether a format code has date or time tokens outside
// of quoted text, escapes and bracketed modifiers.
func isDateFormat(code string) bool {
	code = strings.ToLower(code)
	for i := 0; i < len(code); i++ {
		switch ch := code[i]; ch {
		case '"':
			if end := strings.IndexByte(code[i+1:], '"'); end >= 0 {
				i += end + 1
			} else {
				return false
			}
		case '[':
			end := strings.IndexByte(code[i+1:], ']')
			if end < 0 {
				return false
			}
			// Elapsed time such as [h] or [mm].
			if inner := code[i+1 : i+1+end]; inner != "" && strings.Trim(inner, "hms") == "" {
				return true
			}
			i += end + 1
		case '\\', '_', '*':
			i++
		case 'y', 'd', 'h', 's', 'm':
			return true
		}
	}
	return false
}
