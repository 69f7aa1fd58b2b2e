package deliverynote

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// Workbook is a read-only spreadsheet file.
type Workbook interface {
	SheetNames() []string
	Sheet(name string) (Sheet, error)
	Close() error
}

// Sheet is one worksheet.  Rows and columns are 1-based; cells outside the
// used range read as "".
type Sheet interface {
	Name() string
	MaxRow() int
	Cell(col, row int) string
}

// dateCeller is implemented by sheets that store dates as serial numbers
// behind a display format.
type dateCeller interface {
	DateCell(col, row int) (Date, bool)
}

// IsSpreadsheet reports whether filename has an extension OpenWorkbook
// understands.
func IsSpreadsheet(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".xls":
		return true
	}
	return false
}

// OpenWorkbook opens path according to its extension.
func OpenWorkbook(path string) (Workbook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, extractionErrorf(err, "open workbook %s", path)
		}
		return &xlsxWorkbook{f: f}, nil
	case ".xls":
		return openXLS(path)
	}
	return nil, extractionErrorf(nil, "unsupported spreadsheet %s", path)
}

// maxDateSerial is 9999-12-31 in the 1900 date system.
const maxDateSerial = 2958465

type xlsxWorkbook struct {
	f *excelize.File
}

func (w *xlsxWorkbook) SheetNames() []string {
	return w.f.GetSheetList()
}

func (w *xlsxWorkbook) Sheet(name string) (Sheet, error) {
	idx, err := w.f.GetSheetIndex(name)
	if err != nil || idx < 0 {
		return nil, extractionErrorf(err, "sheet %q not found", name)
	}
	rows, err := w.f.GetRows(name)
	if err != nil {
		return nil, extractionErrorf(err, "read sheet %q", name)
	}
	return &xlsxSheet{f: w.f, name: name, rows: rows}, nil
}

func (w *xlsxWorkbook) Close() error {
	return errors.WithStack(w.f.Close())
}

type xlsxSheet struct {
	f    *excelize.File
	name string
	rows [][]string
}

func (s *xlsxSheet) Name() string { return s.name }

func (s *xlsxSheet) MaxRow() int { return len(s.rows) }

func (s *xlsxSheet) Cell(col, row int) string {
	if row < 1 || row > len(s.rows) {
		return ""
	}
	r := s.rows[row-1]
	if col < 1 || col > len(r) {
		return ""
	}
	return r[col-1]
}

func (s *xlsxSheet) DateCell(col, row int) (Date, bool) {
	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return Date{}, false
	}
	raw, err := s.f.GetCellValue(s.name, axis, excelize.Options{RawCellValue: true})
	if err != nil {
		return Date{}, false
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || serial <= 0 || serial > maxDateSerial {
		return Date{}, false
	}
	// numbers such as 250116 are left to the text formats
	if !s.hasDateFormat(axis) {
		return Date{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return Date{}, false
	}
	return dateFromTime(t), true
}

// builtInDateFormats are the built-in number format ids that show a date,
// including the CJK locale ones.
var builtInDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 36: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

func (s *xlsxSheet) hasDateFormat(axis string) bool {
	idx, err := s.f.GetCellStyle(s.name, axis)
	if err != nil || idx == 0 {
		return false
	}
	style, err := s.f.GetStyle(idx)
	if err != nil {
		return false
	}
	if builtInDateFormats[style.NumFmt] {
		return true
	}
	return style.CustomNumFmt != nil && isDateFormatCode(*style.CustomNumFmt)
}

// isDateFormatCode reports whether a custom format code has a year or day
// token outside quoted literals, escapes and [...] sections.
func isDateFormatCode(code string) bool {
	quoted, bracket := false, false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case quoted:
			quoted = c != '"'
		case bracket:
			bracket = c != ']'
		case c == '"':
			quoted = true
		case c == '[':
			bracket = true
		case c == '\\':
			i++
		case c == 'y' || c == 'Y' || c == 'd' || c == 'D':
			return true
		}
	}
	return false
}

type xlsWorkbook struct {
	file   *os.File
	sheets []*xls.WorkSheet
}

func openXLS(path string) (Workbook, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, extractionErrorf(err, "open workbook %s", path)
	}
	wb, err := xls.OpenReader(file, "utf-8")
	if err != nil {
		return nil, appendError(extractionErrorf(err, "parse workbook %s", path), file.Close())
	}
	w := &xlsWorkbook{file: file}
	for i := 0; i < wb.NumSheets(); i++ {
		if s := wb.GetSheet(i); s != nil {
			w.sheets = append(w.sheets, s)
		}
	}
	return w, nil
}

func (w *xlsWorkbook) SheetNames() []string {
	names := make([]string, 0, len(w.sheets))
	for _, s := range w.sheets {
		names = append(names, s.Name)
	}
	return names
}

func (w *xlsWorkbook) Sheet(name string) (Sheet, error) {
	for _, s := range w.sheets {
		if s.Name == name {
			return &xlsSheet{s: s}, nil
		}
	}
	return nil, extractionErrorf(nil, "sheet %q not found", name)
}

func (w *xlsWorkbook) Close() error {
	return errors.WithStack(w.file.Close())
}

type xlsSheet struct {
	s *xls.WorkSheet
}

func (s *xlsSheet) Name() string { return s.s.Name }

func (s *xlsSheet) MaxRow() int { return int(s.s.MaxRow) + 1 }

func (s *xlsSheet) Cell(col, row int) string {
	if row < 1 || col < 1 || row > s.MaxRow() {
		return ""
	}
	r := s.s.Row(row - 1)
	if r == nil || col-1 > r.LastCol() {
		return ""
	}
	return r.Col(col - 1)
}
