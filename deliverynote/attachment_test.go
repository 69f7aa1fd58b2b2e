package deliverynote

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAttachmentStore() *AttachmentStore {
	s := NewAttachmentStore(zap.NewNop().Sugar())
	s.now = func() time.Time { return time.Date(2025, 1, 16, 9, 30, 0, 0, time.Local) }
	return s
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"送货单.xlsx", "送货单.xlsx"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\vendor\note.xls`, "note.xls"},
		{"a:b*c?.xlsx", "a_b_c_.xlsx"},
		{"tab\there.xlsx", "tabhere.xlsx"},
		{"  spaced.xlsx ", "spaced.xlsx"},
		{"", "attachment"},
		{"..", "attachment"},
		{"/", "attachment"},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, sanitizeFilename(c.input), c.input)
	}
}

func TestAttachmentSave(t *testing.T) {
	s := newTestAttachmentStore()
	dir := filepath.Join(t.TempDir(), "downloads", "vendor")

	path, err := s.Save(dir, "SHIP-0116.xlsx", []byte("first"))
	require.Nil(t, err)
	require.Equal(t, filepath.Join(dir, "20250116_SHIP-0116.xlsx"), path)

	path2, err := s.Save(dir, "SHIP-0116.xlsx", []byte("second"))
	require.Nil(t, err)
	require.NotEqual(t, path, path2)
	require.Regexp(t, regexp.MustCompile(`^20250116_SHIP-0116_[0-9a-f]{8}\.xlsx$`), filepath.Base(path2))

	content, err := os.ReadFile(path)
	require.Nil(t, err)
	require.Equal(t, "first", string(content))
	content, err = os.ReadFile(path2)
	require.Nil(t, err)
	require.Equal(t, "second", string(content))

	path3, err := s.Save(dir, "../evil.xlsx", nil)
	require.Nil(t, err)
	require.Equal(t, filepath.Join(dir, "20250116_evil.xlsx"), path3)
}

func TestAttachmentSaveFailure(t *testing.T) {
	s := newTestAttachmentStore()
	blocker := filepath.Join(t.TempDir(), "file")
	require.Nil(t, os.WriteFile(blocker, nil, 0644))

	_, err := s.Save(filepath.Join(blocker, "sub"), "a.xlsx", []byte("x"))
	require.NotNil(t, err)
	require.True(t, errors.Is(err, ErrPersistence))
}

func TestAttachmentArchive(t *testing.T) {
	s := newTestAttachmentStore()
	base := t.TempDir()
	archive := filepath.Join(base, "archive")

	src := filepath.Join(base, "20250116_note.xlsx")
	require.Nil(t, os.WriteFile(src, []byte("one"), 0644))
	dest, err := s.Archive(src, archive)
	require.Nil(t, err)
	require.Equal(t, filepath.Join(archive, "20250116_note.xlsx"), dest)
	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err))

	require.Nil(t, os.WriteFile(src, []byte("two"), 0644))
	dest2, err := s.Archive(src, archive)
	require.Nil(t, err)
	require.Regexp(t, regexp.MustCompile(`^20250116_note_[0-9a-f]{8}\.xlsx$`), filepath.Base(dest2))

	content, err := os.ReadFile(dest)
	require.Nil(t, err)
	require.Equal(t, "one", string(content))
	content, err = os.ReadFile(dest2)
	require.Nil(t, err)
	require.Equal(t, "two", string(content))

	_, err = s.Archive(filepath.Join(base, "missing.xlsx"), archive)
	require.NotNil(t, err)
	require.True(t, errors.Is(err, ErrPersistence))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")
	require.Nil(t, os.WriteFile(src, []byte("payload"), 0644))

	require.Nil(t, copyFile(src, dest))
	content, err := os.ReadFile(dest)
	require.Nil(t, err)
	require.Equal(t, "payload", string(content))

	require.NotNil(t, copyFile(src, dest))
}
