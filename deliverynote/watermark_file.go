package deliverynote

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var _ WatermarkStore = (*FileWatermarkStore)(nil)

// FileWatermarkStore keeps watermarks in a JSON object mapping vendor to
// YYYY-MM-DD.  The store holds an exclusive lock on <path>.lock from open
// to Close, so a second instance pointed at the same file fails to open.
type FileWatermarkStore struct {
	path   string
	lock   *os.File
	logger *zap.SugaredLogger
}

// OpenFileWatermarkStore locks and returns the store at path.  The file
// itself is created on first Save.
func OpenFileWatermarkStore(path string, logger *zap.SugaredLogger) (*FileWatermarkStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, persistenceErrorf(err, "cannot create watermark directory for %s", path)
	}
	lock, err := os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, persistenceErrorf(err, "cannot open watermark lock for %s", path)
	}
	if err := lockFile(lock); err != nil {
		return nil, appendError(persistenceErrorf(err, "cannot lock watermark store %s", path), lock.Close())
	}
	return &FileWatermarkStore{path: path, lock: lock, logger: logger}, nil
}

// Load reads all watermarks.  A missing file means no vendor has been
// processed.  Entries that do not parse are logged and ignored.
func (s *FileWatermarkStore) Load(ctx context.Context) (map[string]Date, error) {
	marks := map[string]Date{}
	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return marks, nil
	}
	if err != nil {
		return nil, persistenceErrorf(err, "cannot read watermarks %s", s.path)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return marks, nil
	}

	var raw map[string]string
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, persistenceErrorf(err, "malformed watermark file %s", s.path)
	}
	for vendor, text := range raw {
		d, ok := ParseDate(text)
		if !ok {
			s.logger.Warnw("ignoring unparseable watermark",
				"vendor", vendor,
				"value", text)
			continue
		}
		marks[vendor] = d
	}
	return marks, nil
}

// Save rewrites the file with the vendor's watermark raised to d.  A d not
// later than the stored value leaves the file untouched.
func (s *FileWatermarkStore) Save(ctx context.Context, vendor string, d Date) error {
	marks, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if !d.After(marks[vendor]) {
		return nil
	}
	marks[vendor] = d

	data, err := marshalIndent(marks)
	if err != nil {
		return persistenceErrorf(err, "cannot encode watermarks")
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return persistenceErrorf(err, "cannot write watermarks %s", s.path)
	}
	return nil
}

// Close releases the lock.
func (s *FileWatermarkStore) Close() error {
	if s.lock == nil {
		return nil
	}
	err := appendError(unlockFile(s.lock), errors.WithStack(s.lock.Close()))
	s.lock = nil
	return err
}

// marshalIndent encodes v with two-space indentation and without escaping
// HTML or non-ASCII characters.
func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// writeFileAtomic replaces path with data through a temporary file in the
// same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		return appendError(errors.WithStack(err), tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return appendError(errors.WithStack(err), tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp.Name(), path))
}
