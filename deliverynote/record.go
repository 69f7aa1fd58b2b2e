package deliverynote

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ShipmentRecord is one normalized delivery-note row.  The JSON keys are
// the identifiers the downstream ERP automation reads; do not rename them.
type ShipmentRecord struct {
	DeliveryDate string `json:"送货日期"`
	OrderNo      string `json:"订单号"`
	ItemName     string `json:"品名"`
	PackageForm  string `json:"封装形式"`
	PrintLot     string `json:"打印批号"`
	Quantity     int    `json:"数量"`
	WaferName    string `json:"晶圆名称"`
	WaferLot     string `json:"晶圆批号"`
	Vendor       string `json:"供应商"`
}

// Batch groups the records of one delivery date.
type Batch struct {
	Date    Date
	Records []ShipmentRecord
}

// Field names accepted in a rule's fields list.
const (
	FieldOrderNo     = "order_no"
	FieldItemName    = "item_name"
	FieldPackageForm = "package_form"
	FieldPrintLot    = "print_lot"
	FieldQuantity    = "quantity"
	FieldWaferName   = "wafer_name"
	FieldWaferLot    = "wafer_lot"
)

// set assigns a text field by name.  Quantity is handled by the caller.
func (r *ShipmentRecord) set(name, value string) {
	switch name {
	case FieldOrderNo:
		r.OrderNo = value
	case FieldItemName:
		r.ItemName = value
	case FieldPackageForm:
		r.PackageForm = value
	case FieldPrintLot:
		r.PrintLot = value
	case FieldWaferName:
		r.WaferName = value
	case FieldWaferLot:
		r.WaferLot = value
	}
}

// parseQuantity converts cell text to a non-negative integer.  Fractions
// are truncated.  Blank, unparseable or negative input is 0 with a warning.
func parseQuantity(logger *zap.SugaredLogger, text string) int {
	s := strings.TrimSpace(text)
	if s == "" {
		logger.Warnw("empty quantity, using 0",
			"value", text)
		return 0
	}
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		logger.Warnw("unparseable quantity, using 0",
			"value", text)
		return 0
	}
	if f < 0 {
		logger.Warnw("negative quantity, using 0",
			"value", text)
		return 0
	}
	if f > math.MaxInt32 {
		logger.Warnw("quantity out of range, using 0",
			"value", text)
		return 0
	}
	return int(f)
}
