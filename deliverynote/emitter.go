package deliverynote

import (
	"path/filepath"

	"go.uber.org/zap"
)

// Emitter writes shipment records as JSON files, one per vendor and
// delivery date.
type Emitter struct {
	logger *zap.SugaredLogger
}

// NewEmitter returns an Emitter.
func NewEmitter(logger *zap.SugaredLogger) *Emitter {
	return &Emitter{logger: logger}
}

// OutputFileName is the name of the file holding a vendor's records for
// one delivery date.
func OutputFileName(vendor string, d Date) string {
	return vendor + "送货单_" + d.String() + ".json"
}

// Write replaces dir/OutputFileName(vendor, d) with records and returns its
// path.
func (e *Emitter) Write(dir, vendor string, d Date, records []ShipmentRecord) (string, error) {
	if records == nil {
		records = []ShipmentRecord{}
	}
	data, err := marshalIndent(records)
	if err != nil {
		return "", persistenceErrorf(err, "cannot encode records of %s %s", vendor, d)
	}
	path := filepath.Join(dir, OutputFileName(vendor, d))
	if err := writeFileAtomic(path, data); err != nil {
		return "", persistenceErrorf(err, "cannot write %s", path)
	}
	e.logger.Infow("wrote delivery note",
		"path", path,
		"vendor", vendor,
		"date", d,
		"records", len(records))
	return path, nil
}
