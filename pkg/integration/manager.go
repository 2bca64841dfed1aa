// Package integration reconciles the metadata repository with the project
// filesystem: bidirectional sync, integrity checking with auto-repair, and
// full or incremental ZIP backup and restore.
package integration

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yukkuristudio/flowkit/pkg/errors"
	"github.com/yukkuristudio/flowkit/pkg/projectfs"
	"github.com/yukkuristudio/flowkit/pkg/storage"
)

// Manager coordinates repository and filesystem state for projects. Sync,
// repair and backup operations on the same project are serialized through
// a per-project operation lock.
type Manager struct {
	store storage.ProjectStore
	fs    *projectfs.Manager

	mu       sync.Mutex
	locks    map[string]struct{}
	lastSync map[string]*SyncReport
}

// NewManager creates an integration manager over the given repository and
// filesystem manager.
func NewManager(store storage.ProjectStore, fs *projectfs.Manager) *Manager {
	return &Manager{
		store:    store,
		fs:       fs,
		locks:    make(map[string]struct{}),
		lastSync: make(map[string]*SyncReport),
	}
}

// LastSyncReport returns the most recent sync report for the project, or
// nil when the project has not been synced.
func (m *Manager) LastSyncReport(projectID string) *SyncReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync[projectID]
}

func (m *Manager) recordSyncReport(report *SyncReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync[report.ProjectID] = report
}

// AcquireOperationLock marks the project busy. A second acquisition before
// release fails rather than blocks so callers never deadlock on their own
// project.
func (m *Manager) AcquireOperationLock(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[projectID]; held {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("operation already in progress for project %s", projectID), nil)
	}
	m.locks[projectID] = struct{}{}
	return nil
}

// ReleaseOperationLock marks the project idle again.
func (m *Manager) ReleaseOperationLock(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, projectID)
}

// inferFileType maps a file extension to a valid repository file type.
func inferFileType(relPath string) string {
	switch strings.ToLower(filepath.Ext(relPath)) {
	case ".json", ".txt":
		return "script"
	case ".wav", ".mp3":
		return "audio"
	case ".mp4", ".avi":
		return "video"
	case ".png", ".jpg", ".jpeg":
		return "image"
	default:
		return "metadata"
	}
}

// inferFileCategory maps a project-relative path to a file category based
// on the folder it lives in.
func inferFileCategory(relPath string) string {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		switch part {
		case "temp":
			return storage.FileCategoryTemp
		case "final":
			return storage.FileCategoryOutput
		case "original":
			return storage.FileCategoryInput
		}
	}
	return storage.FileCategoryIntermediate
}

// normalizeFileType coerces legacy or unknown type names to a valid enum
// value, falling back to extension inference.
func normalizeFileType(fileType, relPath string) string {
	for _, valid := range storage.ValidFileTypes {
		if fileType == valid {
			return fileType
		}
	}
	return inferFileType(relPath)
}
