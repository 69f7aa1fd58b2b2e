//go:build !unix

package deliverynote

import "os"

// Advisory locks are not available; the single-writer assumption is
// unchecked on this platform.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
