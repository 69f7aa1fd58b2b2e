package deliverynote

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Date is a calendar date without time of day.  The zero value is the
// "never processed" sentinel, rendered as 0000-00-00, which orders before
// every real date.
type Date struct {
	Year  int
	Month int
	Day   int
}

// NeverProcessed is the watermark of a vendor with no history.
var NeverProcessed = Date{}

// sentinelText is how NeverProcessed is persisted.
const sentinelText = "0000-00-00"

// Candidate layouts, tried in order.  Single-digit layout elements accept
// both padded and unpadded input.
var dateLayouts = []string{
	"20060102",
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"2006年1月2日",
}

var digitRuns = regexp.MustCompile(`\d+`)

// Key returns the fixed-width YYYYMMDD integer used for ordering.
func (d Date) Key() int {
	return d.Year*10000 + d.Month*100 + d.Day
}

// IsZero reports whether d is the never-processed sentinel.
func (d Date) IsZero() bool {
	return d == Date{}
}

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool {
	return d.Key() > o.Key()
}

func (d Date) String() string {
	if d.IsZero() {
		return sentinelText
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, ok := ParseDate(string(b))
	if !ok {
		return errors.Newf("invalid date %q", string(b))
	}
	*d = parsed
	return nil
}

func dateFromTime(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// ParseDate normalizes the textual date encodings found in delivery notes.
// The sentinel forms 0000-00-00 and 00000000 parse to NeverProcessed.
func ParseDate(s string) (Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, false
	}
	if s == sentinelText || s == "00000000" {
		return NeverProcessed, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateFromTime(t), true
		}
	}
	return parseDigitRuns(s)
}

// parseDigitRuns reads the first three runs of digits as year, month and
// day.  Two-digit years are taken to be in the 2000s.
func parseDigitRuns(s string) (Date, bool) {
	runs := digitRuns.FindAllString(s, 3)
	if len(runs) < 3 {
		return Date{}, false
	}
	var parts [3]int
	for i, r := range runs {
		n, err := strconv.Atoi(r)
		if err != nil {
			return Date{}, false
		}
		parts[i] = n
	}
	y, m, d := parts[0], parts[1], parts[2]
	if y < 100 {
		y += 2000
	}
	return validDate(y, m, d)
}

func validDate(y, m, d int) (Date, bool) {
	if y < 1 || y > 9999 || m < 1 || m > 12 || d < 1 {
		return Date{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return Date{}, false
	}
	return Date{Year: y, Month: m, Day: d}, true
}
