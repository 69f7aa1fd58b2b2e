//go:build unix

package deliverynote

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive advisory lock on f without waiting.
func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return errors.Newf("%s is locked by another process", f.Name())
	}
	return errors.WithStack(err)
}

func unlockFile(f *os.File) error {
	return errors.WithStack(unix.Flock(int(f.Fd()), unix.LOCK_UN))
}
