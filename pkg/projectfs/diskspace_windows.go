//go:build windows

package projectfs

import (
	"golang.org/x/sys/windows"

	"github.com/yukkuristudio/flowkit/pkg/errors"
)

// AvailableDiskSpace returns the bytes available to the calling user on
// the volume holding the base directory.
func (m *Manager) AvailableDiskSpace() (uint64, error) {
	path, err := windows.UTF16PtrFromString(m.baseDir)
	if err != nil {
		return 0, errors.NewFileSystemError("failed to query available disk space", err)
	}
	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(path, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, errors.NewFileSystemError("failed to query available disk space", err)
	}
	return freeBytesAvailable, nil
}
