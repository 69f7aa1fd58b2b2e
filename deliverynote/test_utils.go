package deliverynote

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sony/micro-delivery-ingest/mailbox/mocks"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/mock/gomock"
)

// TestConfig test config
type TestConfig struct {
	rules          string
	configOverride string
}

// TestApp test app
type TestApp struct {
	testConfig *TestConfig
	app        *App
	dir        string
	gateway    *mocks.MockGateway
}

// Fini finish event
func (a *TestApp) Fini() {
	_ = a.app.Fini()
}

// vendorARules is the rule file used by the pipeline tests.
const vendorARules = `rules:
  - name: VendorA
    subject_contains: ["Delivery.*VendorA"]
    attachment_name_pattern: ['^SHIP-.*\.xlsx$']
    download_path: {{dir}}/download/VendorA
    sheet_format: fixed
    sheet_name: Page 1
    date_cell: {row: 4, column: P}
    header_marker: {column: D, value: OrderNo}
    footer_marker: {column: N, value: TOTAL}
    fields:
      - {name: order_no, column: D}
      - {name: item_name, column: E}
      - {name: package_form, column: F}
      - {name: print_lot, column: G}
      - {name: wafer_name, column: H}
      - {name: wafer_lot, column: I}
      - {name: quantity, column: J}
`

func initTestBase(t *testing.T, tconf *TestConfig) *TestApp {
	if tconf == nil {
		tconf = &TestConfig{}
	}
	dir := t.TempDir()

	rules := tconf.rules
	if rules == "" {
		rules = vendorARules
	}
	rulesPath := filepath.Join(dir, "email_rules.yaml")
	err := os.WriteFile(rulesPath, bytes.ReplaceAll([]byte(rules), []byte("{{dir}}"), []byte(dir)), 0644)
	require.Nil(t, err)

	sConfig := tconf.configOverride
	if sConfig == "" {
		sConfig = `{"host":"localhost",` +
			`"api-keys":["apikey"]}`
	}
	config, err := ParseConfig(sConfig)
	require.Nil(t, err)
	config.RulesFile = rulesPath
	config.WatermarkPath = filepath.Join(dir, "config", "process_dates.json")
	config.OutputRoot = filepath.Join(dir, "output")
	config.ArchiveRoot = filepath.Join(dir, "archive")

	logger, err := createLogger(true)
	require.Nil(t, err)

	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)

	app, err := newAppWithGateway(config, logger, gw)
	require.Nil(t, err)

	return &TestApp{
		testConfig: tconf,
		app:        app,
		dir:        dir,
		gateway:    gw,
	}
}

// vendorARow is one data row of a VendorA sheet, columns D through J.
type vendorARow struct {
	orderNo, itemName, packageForm, printLot, waferName, waferLot string
	quantity                                                      any
}

func sampleVendorARows() []vendorARow {
	return []vendorARow{
		{"PO-1001", "AX100", "SOP8", "L2501", "W-AX", "WL-01", 1200},
		{"PO-1002", "AX200", "QFN16", "L2502", "W-AX", "WL-02", "3,000"},
	}
}

// writeVendorAWorkbook writes a VendorA delivery note: date in P4, header
// row 7, data from row 8, TOTAL in column N after the data.
func writeVendorAWorkbook(t *testing.T, path string, date any, rows []vendorARow) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	const sheet = "Page 1"
	require.Nil(t, f.SetSheetName("Sheet1", sheet))

	set := func(cell string, v any) {
		require.Nil(t, f.SetCellValue(sheet, cell, v))
	}
	set("A1", "VendorA Delivery Note")
	set("O4", "Date")
	set("P4", date)
	for col, title := range map[string]string{
		"D7": "OrderNo", "E7": "Item", "F7": "Package", "G7": "PrintLot",
		"H7": "Wafer", "I7": "WaferLot", "J7": "Qty",
	} {
		set(col, title)
	}
	row := 8
	for _, r := range rows {
		for col, v := range map[string]any{
			"D": r.orderNo, "E": r.itemName, "F": r.packageForm, "G": r.printLot,
			"H": r.waferName, "I": r.waferLot, "J": r.quantity,
		} {
			cell, err := excelize.JoinCellName(col, row)
			require.Nil(t, err)
			set(cell, v)
		}
		row++
	}
	cell, err := excelize.JoinCellName("N", row)
	require.Nil(t, err)
	set(cell, "TOTAL")

	require.Nil(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.Nil(t, f.SaveAs(path))
}

// workbookBytes returns the content of a VendorA workbook.
func workbookBytes(t *testing.T, date any, rows []vendorARow) []byte {
	path := filepath.Join(t.TempDir(), "fixture.xlsx")
	writeVendorAWorkbook(t, path, date, rows)
	data, err := os.ReadFile(path)
	require.Nil(t, err)
	return data
}

// sampleAttachment is a file attached to a test message.
type sampleAttachment struct {
	filename string
	data     []byte
}

// buildMessage composes a multipart message carrying attachments.
func buildMessage(t *testing.T, subject string, atts ...sampleAttachment) []byte {
	var h mail.Header
	h.SetDate(time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC))
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Name: "VendorA Logistics", Address: "ship@vendora.example.com"}})
	h.SetAddressList("To", []*mail.Address{{Address: "receiving@example.com"}})

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	require.Nil(t, err)

	tw, err := mw.CreateInline()
	require.Nil(t, err)
	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	w, err := tw.CreatePart(th)
	require.Nil(t, err)
	_, err = w.Write([]byte("Please find the delivery note attached."))
	require.Nil(t, err)
	require.Nil(t, w.Close())
	require.Nil(t, tw.Close())

	for _, a := range atts {
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		ah.SetFilename(a.filename)
		w, err := mw.CreateAttachment(ah)
		require.Nil(t, err)
		_, err = w.Write(a.data)
		require.Nil(t, err)
		require.Nil(t, w.Close())
	}
	require.Nil(t, mw.Close())
	return buf.Bytes()
}
