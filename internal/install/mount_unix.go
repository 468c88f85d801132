//go:build darwin || linux

package install

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// isMountPoint reports whether path is the root of a mounted filesystem:
// its device differs from its parent's.
func isMountPoint(path string) (bool, error) {
	var self, parent unix.Stat_t
	if err := unix.Stat(path, &self); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := unix.Stat(filepath.Dir(filepath.Clean(path)), &parent); err != nil {
		return false, fmt.Errorf("stat parent of %s: %w", path, err)
	}
	return self.Dev != parent.Dev, nil
}
