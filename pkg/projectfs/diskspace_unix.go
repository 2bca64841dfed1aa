//go:build !windows

package projectfs

import (
	"golang.org/x/sys/unix"

	"github.com/yukkuristudio/flowkit/pkg/errors"
)

// AvailableDiskSpace returns the bytes available to unprivileged users on
// the volume holding the base directory.
func (m *Manager) AvailableDiskSpace() (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(m.baseDir, &stat); err != nil {
		return 0, errors.NewFileSystemError("failed to query available disk space", err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
