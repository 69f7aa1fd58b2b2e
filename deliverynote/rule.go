package deliverynote

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed rule_schema.json
var ruleSchema []byte

const ruleSchemaURL = "rule_schema.json"

// Sheet selection modes.
const (
	SheetFixed  = "fixed"
	SheetDate   = "date"
	SheetNumber = "number"
	SheetAll    = "all"
)

// CellRef addresses one spreadsheet cell.  Pattern, when set, is applied to
// the cell text and its first capture group (or whole match) is used.
type CellRef struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Pattern string `json:"pattern,omitempty"`
}

// Marker bounds a data block: a row whose Column contains Value.  An empty
// Value on a footer means "the first blank cell in Column".
type Marker struct {
	Column string `json:"column"`
	Value  string `json:"value,omitempty"`
}

// FieldSpec maps one record field to a column, a constant, or nothing.
type FieldSpec struct {
	Name   string  `json:"name"`
	Column string  `json:"column,omitempty"`
	Value  *string `json:"value,omitempty"`
	Blank  bool    `json:"blank,omitempty"`
}

// Rule is a declarative mail predicate plus the extraction layout of one
// vendor's delivery notes.  Rules are read-only once loaded.
type Rule struct {
	Name                   string      `json:"name"`
	Vendor                 string      `json:"vendor,omitempty"`
	SubjectContains        []string    `json:"subject_contains,omitempty"`
	SenderContains         []string    `json:"sender_contains,omitempty"`
	ReceiverContains       []string    `json:"receiver_contains,omitempty"`
	AttachmentNamePatterns []string    `json:"attachment_name_pattern"`
	DownloadPath           string      `json:"download_path"`
	JSONOutput             string      `json:"json_output,omitempty"`
	ExcelArchive           string      `json:"excel_archive,omitempty"`
	SheetFormat            string      `json:"sheet_format,omitempty"`
	SheetName              string      `json:"sheet_name,omitempty"`
	DateCell               *CellRef    `json:"date_cell,omitempty"`
	HeaderMarker           *Marker     `json:"header_marker,omitempty"`
	FooterMarker           *Marker     `json:"footer_marker,omitempty"`
	StartRow               int         `json:"start_row,omitempty"`
	PresenceColumn         string      `json:"presence_column,omitempty"`
	Fields                 []FieldSpec `json:"fields"`
	CheckDate              bool        `json:"check_date,omitempty"`
	SkipEmpty              bool        `json:"skip_empty,omitempty"`

	subjectRes    []*regexp.Regexp
	attachmentRes []*regexp.Regexp
	dateRe        *regexp.Regexp
	layout        layout
}

// layout is the resolved, column-numbered form of the extraction settings.
type layout struct {
	dateCol     int
	headerCol   int
	footerCol   int
	presenceCol int
	fields      []fieldColumn
}

type fieldColumn struct {
	name   string
	column int // 0 for constant or blank
	value  string
}

type ruleFile struct {
	Rules []*Rule `json:"rules"`
}

// LoadRules reads, validates and compiles the rule file at path.  The
// format follows the extension: .yaml/.yml, .toml or .json.  Rules keep the
// order they are declared in.
func LoadRules(logger *zap.SugaredLogger, path string) ([]*Rule, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf(err, "cannot read rule file %s", path)
	}

	doc, err := decodeRuleDocument(path, content)
	if err != nil {
		return nil, err
	}
	if err := validateRuleDocument(doc); err != nil {
		return nil, configErrorf(err, "rule file %s does not match schema", path)
	}

	var rf ruleFile
	if err := json.Unmarshal(doc, &rf); err != nil {
		return nil, configErrorf(err, "cannot decode rule file %s", path)
	}

	seen := map[string]bool{}
	for _, r := range rf.Rules {
		if seen[r.Name] {
			return nil, configErrorf(nil, "duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
		if err := r.compile(logger); err != nil {
			return nil, err
		}
	}

	logger.Infow("loaded rules",
		"path", path,
		"count", len(rf.Rules))
	return rf.Rules, nil
}

// decodeRuleDocument converts any supported format to canonical JSON so
// one schema and one set of struct tags serve all of them.
func decodeRuleDocument(path string, content []byte) ([]byte, error) {
	var generic any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &generic); err != nil {
			return nil, configErrorf(err, "malformed YAML in %s", path)
		}
	case ".toml":
		m := map[string]any{}
		if _, err := toml.Decode(string(content), &m); err != nil {
			return nil, configErrorf(err, "malformed TOML in %s", path)
		}
		generic = m
	case ".json":
		if err := json.Unmarshal(content, &generic); err != nil {
			return nil, configErrorf(err, "malformed JSON in %s", path)
		}
	default:
		return nil, configErrorf(nil, "unsupported rule file format %s", path)
	}
	if generic == nil {
		return nil, configErrorf(nil, "rule file %s is empty", path)
	}
	b, err := json.Marshal(generic)
	if err != nil {
		return nil, configErrorf(err, "cannot normalize rule file %s", path)
	}
	return b, nil
}

func validateRuleDocument(doc []byte) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(ruleSchema))
	if err != nil {
		return errors.WithStack(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(ruleSchemaURL, schemaDoc); err != nil {
		return errors.WithStack(err)
	}
	sch, err := c.Compile(ruleSchemaURL)
	if err != nil {
		return errors.WithStack(err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return errors.WithStack(err)
	}
	return sch.Validate(inst)
}

// compilePatterns compiles case-insensitive patterns.  Invalid ones are
// logged and left out.
func compilePatterns(logger *zap.SugaredLogger, rule, kind string, patterns []string) []*regexp.Regexp {
	var res []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			logger.Warnw("skipping invalid pattern",
				"rule", rule,
				"kind", kind,
				"pattern", p,
				"error", err)
			continue
		}
		res = append(res, re)
	}
	return res
}

func columnNumber(rule, what, name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	n, err := excelize.ColumnNameToNumber(strings.ToUpper(name))
	if err != nil {
		return 0, configErrorf(err, "rule %q: bad %s column %q", rule, what, name)
	}
	return n, nil
}

func (r *Rule) compile(logger *zap.SugaredLogger) error {
	if r.Vendor == "" {
		r.Vendor = r.Name
	}
	if r.SheetFormat == "" {
		r.SheetFormat = SheetAll
	}
	r.subjectRes = compilePatterns(logger, r.Name, "subject", r.SubjectContains)
	r.attachmentRes = compilePatterns(logger, r.Name, "attachment", r.AttachmentNamePatterns)

	var err error
	if r.DateCell != nil {
		if r.layout.dateCol, err = columnNumber(r.Name, "date", r.DateCell.Column); err != nil {
			return err
		}
		if r.DateCell.Pattern != "" {
			if r.dateRe, err = regexp.Compile(r.DateCell.Pattern); err != nil {
				logger.Warnw("ignoring invalid date pattern",
					"rule", r.Name,
					"pattern", r.DateCell.Pattern,
					"error", err)
				r.dateRe = nil
			}
		}
	} else if r.SheetFormat != SheetDate {
		return configErrorf(nil, "rule %q: date_cell is required unless sheet_format is date", r.Name)
	}
	if r.HeaderMarker != nil {
		if r.layout.headerCol, err = columnNumber(r.Name, "header", r.HeaderMarker.Column); err != nil {
			return err
		}
	}
	if r.FooterMarker != nil {
		if r.layout.footerCol, err = columnNumber(r.Name, "footer", r.FooterMarker.Column); err != nil {
			return err
		}
	}

	presence := r.PresenceColumn
	for _, f := range r.Fields {
		fc := fieldColumn{name: f.Name}
		switch {
		case f.Column != "":
			if fc.column, err = columnNumber(r.Name, f.Name, f.Column); err != nil {
				return err
			}
			if presence == "" && f.Name == FieldOrderNo {
				presence = f.Column
			}
		case f.Value != nil:
			fc.value = *f.Value
		}
		r.layout.fields = append(r.layout.fields, fc)
	}
	r.layout.presenceCol, err = columnNumber(r.Name, "presence", presence)
	return err
}

// applyDefaults fills output and archive directories that the rule file
// left empty.
func (r *Rule) applyDefaults(outputRoot, archiveRoot string) {
	if r.JSONOutput == "" {
		r.JSONOutput = filepath.Join(outputRoot, r.Vendor)
	}
	if r.ExcelArchive == "" {
		r.ExcelArchive = filepath.Join(archiveRoot, r.Vendor)
	}
}
