package deliverynote

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AttachmentStore writes downloaded attachments and archives processed
// ones.  It never overwrites an existing file.
type AttachmentStore struct {
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewAttachmentStore returns a store that prefixes saved files with the
// current date.
func NewAttachmentStore(logger *zap.SugaredLogger) *AttachmentStore {
	return &AttachmentStore{logger: logger, now: time.Now}
}

// sanitizeFilename strips directory parts and characters that are not
// allowed in file names.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "attachment"
	}
	return name
}

// uniqueName inserts a random tag before the extension of name.
func uniqueName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + uuid.NewString()[:8] + ext
}

// createExclusive creates dir/name, or a variant of it if that exists.
func createExclusive(dir, name string) (*os.File, string, error) {
	for attempt := 0; ; attempt++ {
		candidate := name
		if attempt > 0 {
			candidate = uniqueName(name)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) || attempt >= 5 {
			return nil, "", errors.WithStack(err)
		}
	}
}

// Save writes data to dir as YYYYMMDD_<filename> and returns the path.
func (s *AttachmentStore) Save(dir, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", persistenceErrorf(err, "cannot create download directory %s", dir)
	}
	name := s.now().Format("20060102") + "_" + sanitizeFilename(filename)

	f, path, err := createExclusive(dir, name)
	if err != nil {
		return "", persistenceErrorf(err, "cannot create attachment file in %s", dir)
	}
	_, err = f.Write(data)
	err = appendError(err, f.Close())
	if err != nil {
		_ = os.Remove(path)
		return "", persistenceErrorf(err, "cannot write attachment %s", path)
	}

	s.logger.Infow("saved attachment",
		"path", path,
		"size", len(data))
	return path, nil
}

// Archive moves a processed file into dir and returns its new path.
func (s *AttachmentStore) Archive(path, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", persistenceErrorf(err, "cannot create archive directory %s", dir)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(dir, uniqueName(filepath.Base(path)))
	}

	if err := os.Rename(path, dest); err != nil {
		// rename fails across file systems
		if err := copyFile(path, dest); err != nil {
			return "", persistenceErrorf(err, "cannot archive %s", path)
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warnw("archived file left in place",
				"path", path,
				"error", err)
		}
	}

	s.logger.Infow("archived file",
		"from", path,
		"to", dest)
	return dest, nil
}

func copyFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		err = appendError(err, errors.WithStack(in.Close()))
	}()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return errors.WithStack(err)
	}
	return errors.WithStack(out.Close())
}
