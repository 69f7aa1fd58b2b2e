package deliverynote

import (
	"context"
	"maps"
	"sync"

	"go.uber.org/zap"
)

// WatermarkStore persists the last processed delivery date per vendor.
// Save must never move a watermark backwards.  A store has a single writer.
type WatermarkStore interface {
	Load(ctx context.Context) (map[string]Date, error)
	Save(ctx context.Context, vendor string, d Date) error
	Close() error
}

// Tracker answers watermark questions for one poll cycle.  Begin reads the
// store; Last and ShouldProcess work on that snapshot; Commit writes
// through.
type Tracker struct {
	store  WatermarkStore
	logger *zap.SugaredLogger

	mu    sync.Mutex
	marks map[string]Date
}

// NewTracker returns a tracker over store.
func NewTracker(store WatermarkStore, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{store: store, logger: logger, marks: map[string]Date{}}
}

// Begin reloads the watermarks from the store.
func (t *Tracker) Begin(ctx context.Context) error {
	marks, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	if marks == nil {
		marks = map[string]Date{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks = marks
	return nil
}

// Last returns the vendor's watermark, or NeverProcessed.
func (t *Tracker) Last(vendor string) Date {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.marks[vendor]
}

// ShouldProcess reports whether d is strictly later than the vendor's
// watermark.
func (t *Tracker) ShouldProcess(vendor string, d Date) bool {
	return d.After(t.Last(vendor))
}

// Commit advances the vendor's watermark to d.  It does nothing and
// returns false unless d is strictly later than the current watermark.
func (t *Tracker) Commit(ctx context.Context, vendor string, d Date) (bool, error) {
	last := t.Last(vendor)
	if !d.After(last) {
		return false, nil
	}
	if err := t.store.Save(ctx, vendor, d); err != nil {
		return false, err
	}

	t.mu.Lock()
	t.marks[vendor] = d
	t.mu.Unlock()

	t.logger.Infow("advanced watermark",
		"vendor", vendor,
		"from", last,
		"to", d)
	return true, nil
}

// Snapshot returns a copy of the watermarks as of the last Begin or Commit.
func (t *Tracker) Snapshot() map[string]Date {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.marks)
}
