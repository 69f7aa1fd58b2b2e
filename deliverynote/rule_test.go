package deliverynote

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeRuleFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.Nil(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const sampleRulesYAML = `rules:
  - name: huayu
    vendor: 华宇
    subject_contains: ["华宇.*送货单"]
    sender_contains: ["@huayu.example.com"]
    attachment_name_pattern: ['\.xlsx?$']
    download_path: downloads/huayu
    sheet_format: fixed
    sheet_name: Page 1
    date_cell: {row: 4, column: P}
    header_marker: {column: D, value: 订单号}
    footer_marker: {column: N, value: TOTAL}
    fields:
      - {name: order_no, column: D}
      - {name: quantity, column: M}
      - {name: package_form, value: SOP8}
      - {name: print_lot, blank: true}
  - name: hanqi
    subject_contains: ["汉旗"]
    attachment_name_pattern: ['\.xls$']
    download_path: downloads/hanqi
    date_cell: {row: 3, column: G, pattern: '日期[:：]\s*(.+)'}
    start_row: 6
    footer_marker: {column: H, value: Total}
    presence_column: E
    check_date: true
    fields:
      - {name: order_no, column: E}
`

func TestLoadRulesYAML(t *testing.T) {
	rules, err := LoadRules(zap.NewNop().Sugar(), writeRuleFile(t, "email_rules.yaml", sampleRulesYAML))
	require.Nil(t, err)
	require.Len(t, rules, 2)

	huayu := rules[0]
	require.Equal(t, "huayu", huayu.Name)
	require.Equal(t, "华宇", huayu.Vendor)
	require.Equal(t, SheetFixed, huayu.SheetFormat)
	require.Equal(t, 16, huayu.layout.dateCol)
	require.Equal(t, 4, huayu.layout.headerCol)
	require.Equal(t, 14, huayu.layout.footerCol)
	require.Equal(t, 4, huayu.layout.presenceCol)
	require.Equal(t, []fieldColumn{
		{name: FieldOrderNo, column: 4},
		{name: FieldQuantity, column: 13},
		{name: FieldPackageForm, value: "SOP8"},
		{name: FieldPrintLot},
	}, huayu.layout.fields)

	hanqi := rules[1]
	require.Equal(t, "hanqi", hanqi.Vendor)
	require.Equal(t, SheetAll, hanqi.SheetFormat)
	require.Equal(t, 5, hanqi.layout.presenceCol)
	require.NotNil(t, hanqi.dateRe)
	require.True(t, hanqi.CheckDate)
	require.Equal(t, 6, hanqi.StartRow)

	hanqi.applyDefaults("out", "arch")
	require.Equal(t, filepath.Join("out", "hanqi"), hanqi.JSONOutput)
	require.Equal(t, filepath.Join("arch", "hanqi"), hanqi.ExcelArchive)
}

func TestLoadRulesTOMLAndJSON(t *testing.T) {
	toml := `[[rules]]
name = "xinfeng"
subject_contains = ["芯丰"]
attachment_name_pattern = ['\.xlsx$']
download_path = "downloads/xinfeng"
start_row = 9
footer_marker = { column = "A" }
presence_column = "C"
date_cell = { row = 2, column = "L", pattern = '出货日期[:：](.+)' }

[[rules.fields]]
name = "order_no"
column = "C"

[[rules.fields]]
name = "quantity"
column = "H"
`
	rules, err := LoadRules(zap.NewNop().Sugar(), writeRuleFile(t, "rules.toml", toml))
	require.Nil(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, 9, rules[0].StartRow)
	require.Equal(t, 1, rules[0].layout.footerCol)
	require.Equal(t, "", rules[0].FooterMarker.Value)

	json := `{"rules":[{"name":"a","attachment_name_pattern":["x"],"download_path":"d",` +
		`"sheet_format":"date","fields":[{"name":"order_no","column":"b"}]}]}`
	rules, err = LoadRules(zap.NewNop().Sugar(), writeRuleFile(t, "rules.json", json))
	require.Nil(t, err)
	require.Equal(t, 2, rules[0].layout.presenceCol)
	require.Nil(t, rules[0].DateCell)
}

func TestLoadRulesConfigErrors(t *testing.T) {
	logger := zap.NewNop().Sugar()
	cases := map[string]struct {
		name, content string
	}{
		"missing file":     {"", ""},
		"malformed yaml":   {"r.yaml", "rules: [unclosed"},
		"malformed toml":   {"r.toml", "[[rules]\nname ="},
		"malformed json":   {"r.json", `{"rules":`},
		"empty":            {"r.yaml", ""},
		"unknown format":   {"r.ini", "[rules]"},
		"no rules key":     {"r.yaml", "vendors: []"},
		"unknown key":      {"r.yaml", "rules:\n  - {name: a, attachment_name_pattern: [x], download_path: d, sheet_format: date, fields: [{name: order_no, column: A}], colour: red}"},
		"bad field name":   {"r.yaml", "rules:\n  - {name: a, attachment_name_pattern: [x], download_path: d, sheet_format: date, fields: [{name: price, column: A}]}"},
		"column and value": {"r.yaml", "rules:\n  - {name: a, attachment_name_pattern: [x], download_path: d, sheet_format: date, fields: [{name: order_no, column: A, value: x}]}"},
		"bad column":       {"r.yaml", "rules:\n  - {name: a, attachment_name_pattern: [x], download_path: d, sheet_format: date, fields: [{name: order_no, column: A1}]}"},
		"bad format":       {"r.yaml", "rules:\n  - {name: a, attachment_name_pattern: [x], download_path: d, sheet_format: weekly, fields: [{name: order_no, column: A}]}"},
		"fixed unnamed":    {"r.yaml", "rules:\n  - {name: a, attachment_name_pattern: [x], download_path: d, sheet_format: fixed, date_cell: {row: 1, column: A}, fields: [{name: order_no, column: A}]}"},
		"no date source":   {"r.yaml", "rules:\n  - {name: a, attachment_name_pattern: [x], download_path: d, sheet_format: all, fields: [{name: order_no, column: A}]}"},
		"no download":      {"r.yaml", "rules:\n  - {name: a, attachment_name_pattern: [x], sheet_format: date, fields: [{name: order_no, column: A}]}"},
		"duplicate names":  {"r.yaml", "rules:\n  - {name: a, attachment_name_pattern: [x], download_path: d, sheet_format: date, fields: [{name: order_no, column: A}]}\n  - {name: a, attachment_name_pattern: [x], download_path: d, sheet_format: date, fields: [{name: order_no, column: A}]}"},
	}
	for label, c := range cases {
		path := filepath.Join(t.TempDir(), "missing.yaml")
		if c.name != "" {
			path = writeRuleFile(t, c.name, c.content)
		}
		_, err := LoadRules(logger, path)
		require.NotNil(t, err, label)
		require.True(t, errors.Is(err, ErrConfig), label)
	}
}

func TestLoadRulesInvalidRegexSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core).Sugar()
	content := `rules:
  - name: a
    subject_contains: ["([unclosed", "Delivery"]
    attachment_name_pattern: ["*.xlsx", '\.xlsx$']
    download_path: d
    sheet_format: date
    date_cell: {row: 1, column: A, pattern: "(("}
    fields: [{name: order_no, column: A}]
`
	rules, err := LoadRules(logger, writeRuleFile(t, "r.yaml", content))
	require.Nil(t, err)
	require.Len(t, rules[0].subjectRes, 1)
	require.Len(t, rules[0].attachmentRes, 1)
	require.Nil(t, rules[0].dateRe)
	require.Equal(t, 3, logs.FilterMessage("skipping invalid pattern").Len()+
		logs.FilterMessage("ignoring invalid date pattern").Len())
}
