package deliverynote

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	// 2025-01-16, 2025/1/16, 20250116, optionally followed by -N for a
	// second sheet of the same day.
	dateSheetName = regexp.MustCompile(`^(\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{8})(?:-\d+)?$`)
	// <batch>-<day>[-<dup>]
	numberSheetName = regexp.MustCompile(`^(\d+)-(\d{1,2})(?:-(\d+))?$`)
)

// Extractor turns delivery-note workbooks into shipment records following
// a rule's layout.
type Extractor struct {
	logger *zap.SugaredLogger
}

// NewExtractor returns an Extractor logging to logger.
func NewExtractor(logger *zap.SugaredLogger) *Extractor {
	return &Extractor{logger: logger}
}

// ExtractFile reads the workbook at path.  Batches come back in the order
// their dates first appear.  With rule.CheckDate, sheets dated on or before
// watermark are not read at all.  Sheets that cannot be read or have no
// delivery date are logged and skipped; only an unreadable file is an error.
func (e *Extractor) ExtractFile(path string, rule *Rule, watermark Date) ([]Batch, error) {
	wb, err := OpenWorkbook(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := wb.Close(); err != nil {
			e.logger.Warnw("cannot close workbook",
				"file", path,
				"error", err)
		}
	}()
	return e.extractWorkbook(wb, rule, watermark, filepath.Base(path)), nil
}

func (e *Extractor) extractWorkbook(wb Workbook, rule *Rule, watermark Date, file string) []Batch {
	var batches []Batch
	byDate := map[int]int{}

	names := selectSheets(wb, rule, watermark)
	if len(names) == 0 {
		e.logger.Warnw("no sheet to extract",
			"file", file,
			"rule", rule.Name,
			"sheetFormat", rule.SheetFormat)
	}

	for _, name := range names {
		logger := e.logger.With("file", file, "sheet", name)
		sheet, err := wb.Sheet(name)
		if err != nil {
			logger.Warnw("cannot read sheet", "error", err)
			continue
		}
		date, ok := extractDeliveryDate(sheet, rule)
		if !ok {
			logger.Warnw("skipping sheet without delivery date")
			continue
		}
		if rule.CheckDate && !date.After(watermark) {
			logger.Infow("skipping sheet at or before watermark",
				"date", date,
				"watermark", watermark)
			continue
		}
		start, end, ok := findDataBlock(sheet, rule)
		if !ok {
			logger.Warnw("skipping sheet without header marker",
				"column", rule.HeaderMarker.Column,
				"value", rule.HeaderMarker.Value)
			continue
		}

		var records []ShipmentRecord
		for row := start; row < end; row++ {
			rec, ok := extractRow(logger, sheet, row, rule)
			if !ok {
				continue
			}
			rec.DeliveryDate = date.String()
			rec.Vendor = rule.Vendor
			records = append(records, rec)
		}
		logger.Infow("extracted sheet",
			"date", date,
			"rows", end-start,
			"records", len(records))
		if len(records) == 0 {
			continue
		}

		if i, found := byDate[date.Key()]; found {
			batches[i].Records = append(batches[i].Records, records...)
			continue
		}
		byDate[date.Key()] = len(batches)
		batches = append(batches, Batch{Date: date, Records: records})
	}
	return batches
}

// selectSheets returns the sheets the rule extracts from, in workbook
// order.
func selectSheets(wb Workbook, rule *Rule, watermark Date) []string {
	var selected []string
	for _, name := range wb.SheetNames() {
		switch rule.SheetFormat {
		case SheetFixed:
			if name == rule.SheetName {
				return []string{name}
			}
		case SheetDate:
			if _, ok := sheetNameDate(name); ok {
				selected = append(selected, name)
			}
		case SheetNumber:
			m := numberSheetName.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			if rule.CheckDate {
				day, _ := strconv.Atoi(m[2])
				if day <= watermark.Day {
					continue
				}
			}
			selected = append(selected, name)
		default:
			selected = append(selected, name)
		}
	}
	return selected
}

// sheetNameDate parses a date-named sheet, ignoring a -N duplicate suffix.
func sheetNameDate(name string) (Date, bool) {
	m := dateSheetName.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return Date{}, false
	}
	d, ok := ParseDate(m[1])
	if !ok || d.IsZero() {
		return Date{}, false
	}
	return d, true
}

// extractDeliveryDate reads the delivery date from the rule's date cell,
// or from the sheet name when the rule has none.
func extractDeliveryDate(sheet Sheet, rule *Rule) (Date, bool) {
	if rule.DateCell == nil {
		return sheetNameDate(sheet.Name())
	}
	col, row := rule.layout.dateCol, rule.DateCell.Row

	if dc, ok := sheet.(dateCeller); ok && rule.dateRe == nil {
		if d, ok := dc.DateCell(col, row); ok {
			return d, true
		}
	}

	text := strings.TrimSpace(sheet.Cell(col, row))
	if rule.dateRe != nil {
		m := rule.dateRe.FindStringSubmatch(text)
		if m == nil {
			return Date{}, false
		}
		text = m[0]
		if len(m) > 1 {
			text = m[1]
		}
	}
	d, ok := ParseDate(text)
	if !ok || d.IsZero() {
		return Date{}, false
	}
	return d, true
}

// findDataBlock returns the half-open row range [start, end) holding data.
// ok is false when a header marker is configured but not found.
func findDataBlock(sheet Sheet, rule *Rule) (start, end int, ok bool) {
	maxRow := sheet.MaxRow()
	start = rule.StartRow
	if start < 1 {
		start = 1
	}

	if h := rule.HeaderMarker; h != nil {
		found := false
		for r := start; r <= maxRow; r++ {
			cell := strings.TrimSpace(sheet.Cell(rule.layout.headerCol, r))
			if (h.Value == "" && cell != "") || (h.Value != "" && strings.Contains(cell, h.Value)) {
				start = r + 1
				found = true
				break
			}
		}
		if !found {
			return 0, 0, false
		}
	}

	end = maxRow + 1
	if f := rule.FooterMarker; f != nil {
		for r := start; r <= maxRow; r++ {
			cell := strings.TrimSpace(sheet.Cell(rule.layout.footerCol, r))
			if (f.Value == "" && cell == "") || (f.Value != "" && strings.Contains(cell, f.Value)) {
				end = r
				break
			}
		}
	}
	return start, end, true
}

// extractRow maps one row to a record.  ok is false for rows whose presence
// column is blank, and with SkipEmpty for rows with no mapped value at all.
func extractRow(logger *zap.SugaredLogger, sheet Sheet, row int, rule *Rule) (rec ShipmentRecord, ok bool) {
	l := &rule.layout
	if l.presenceCol > 0 && strings.TrimSpace(sheet.Cell(l.presenceCol, row)) == "" {
		return rec, false
	}

	filled := false
	for _, f := range l.fields {
		value := f.value
		if f.column > 0 {
			value = strings.TrimSpace(sheet.Cell(f.column, row))
			if value != "" {
				filled = true
			}
		}
		if f.name == FieldQuantity {
			rec.Quantity = parseQuantity(logger.With("row", row), value)
			continue
		}
		rec.set(f.name, value)
	}
	if rule.SkipEmpty && !filled {
		return rec, false
	}
	return rec, true
}
