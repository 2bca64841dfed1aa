package integration

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/yukkuristudio/flowkit/pkg/errors"
	"github.com/yukkuristudio/flowkit/pkg/logger"
	"github.com/yukkuristudio/flowkit/pkg/storage"
)

const (
	lockTimeout     = 30 * time.Second
	flockRetryDelay = 100 * time.Millisecond
)

// fileRecord is the wire form of a file reference inside
// files_metadata.json.
type fileRecord struct {
	FileType    string         `json:"file_type"`
	Category    string         `json:"file_category"`
	FilePath    string         `json:"file_path"`
	FileName    string         `json:"file_name"`
	FileSize    int64          `json:"file_size"`
	MimeType    string         `json:"mime_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IsTemporary bool           `json:"is_temporary"`
}

// withFileLock serializes backup and restore across processes sharing the
// base directory.
func (m *Manager) withFileLock(ctx context.Context, fn func() error) error {
	fileLock := flock.New(filepath.Join(m.fs.BaseDirectory(), ".flowkit.lock"))
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, flockRetryDelay)
	if err != nil {
		return errors.NewDataIntegrationError("failed to acquire backup lock", err)
	}
	if !locked {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("failed to acquire backup lock: timeout after %v", lockTimeout), nil)
	}
	defer func() {
		_ = fileLock.Unlock()
	}()
	return fn()
}

// validateBackupPath checks the target ends with .zip and its parent
// directory exists and is writable.
func validateBackupPath(backupPath string) error {
	if !strings.HasSuffix(backupPath, ".zip") {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("backup path must end with .zip: %s", backupPath), nil)
	}
	parent := filepath.Dir(backupPath)
	info, err := os.Stat(parent)
	if err != nil {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("backup directory does not exist: %s", parent), err)
	}
	if !info.IsDir() {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("backup path parent is not a directory: %s", parent), nil)
	}
	probe, err := os.CreateTemp(parent, ".flowkit-write-probe-*")
	if err != nil {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("backup directory is not writable: %s", parent), err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// CreateProjectBackup writes a full ZIP backup of the project: manifest,
// every file under the project directory at its relative path, and the
// repository's file references. Returns the backup path.
func (m *Manager) CreateProjectBackup(ctx context.Context, projectID, backupPath string) (string, error) {
	if err := validateBackupPath(backupPath); err != nil {
		return "", err
	}
	if err := m.AcquireOperationLock(projectID); err != nil {
		return "", err
	}
	defer m.ReleaseOperationLock(projectID)

	err := m.withFileLock(ctx, func() error {
		return m.writeBackup(ctx, projectID, backupPath, BackupTypeFull, "", nil)
	})
	if err != nil {
		return "", err
	}
	logger.Infow("Created project backup", "project_id", projectID, "path", backupPath)
	return backupPath, nil
}

// CreateIncrementalBackup writes a backup containing only files modified
// after the base backup was written, or after one hour ago when no base
// exists. A no_changes.txt sentinel marks an empty increment.
func (m *Manager) CreateIncrementalBackup(ctx context.Context, projectID, backupPath, baseBackupPath string) (string, error) {
	if err := validateBackupPath(backupPath); err != nil {
		return "", err
	}
	if err := m.AcquireOperationLock(projectID); err != nil {
		return "", err
	}
	defer m.ReleaseOperationLock(projectID)

	cutoff := time.Now().Add(-time.Hour)
	if baseBackupPath != "" {
		if info, err := os.Stat(baseBackupPath); err == nil {
			cutoff = info.ModTime()
		}
	}

	err := m.withFileLock(ctx, func() error {
		return m.writeBackup(ctx, projectID, backupPath, BackupTypeIncremental, baseBackupPath, &cutoff)
	})
	if err != nil {
		return "", err
	}
	logger.Infow("Created incremental backup",
		"project_id", projectID, "path", backupPath, "base", baseBackupPath)
	return backupPath, nil
}

// writeBackup builds the archive. A nil cutoff includes every file; a
// non-nil cutoff includes only files modified after it.
func (m *Manager) writeBackup(ctx context.Context, projectID, backupPath, backupType, baseBackup string, cutoff *time.Time) error {
	project, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("failed to load project %s for backup", projectID), err)
	}
	refs, err := m.store.GetFilesByQuery(ctx, projectID, storage.FileQuery{})
	if err != nil {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("failed to list file references for project %s", projectID), err)
	}
	files, err := m.fs.ProjectFileList(projectID)
	if err != nil {
		return err
	}

	out, err := os.Create(backupPath)
	if err != nil {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("failed to create backup file %s", backupPath), err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	info := &BackupInfo{
		ProjectID:  projectID,
		BackupType: backupType,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		ProjectData: map[string]any{
			"title":                 project.Subject,
			"description":           project.Config["description"],
			"status":                project.Status,
			"target_length_minutes": project.TargetLength,
		},
		BaseBackup: baseBackup,
	}
	if err := writeJSONEntry(zw, backupInfoEntry, info); err != nil {
		return err
	}

	included := 0
	for _, md := range files {
		if cutoff != nil && !md.ModifiedAt.After(*cutoff) {
			continue
		}
		if err := m.writeFileEntry(zw, projectID, md.RelativePath); err != nil {
			return err
		}
		included++
	}
	if cutoff != nil && included == 0 {
		w, err := zw.Create(noChangesEntry)
		if err != nil {
			return errors.NewDataIntegrationError("failed to write backup entry", err)
		}
		if _, err := w.Write([]byte("no files changed since base backup\n")); err != nil {
			return errors.NewDataIntegrationError("failed to write backup entry", err)
		}
	}

	records := make([]*fileRecord, 0, len(refs))
	for _, ref := range refs {
		records = append(records, &fileRecord{
			FileType:    ref.FileType,
			Category:    ref.Category,
			FilePath:    filepath.ToSlash(ref.FilePath),
			FileName:    ref.FileName,
			FileSize:    ref.FileSize,
			MimeType:    ref.MimeType,
			Metadata:    ref.Metadata,
			IsTemporary: ref.IsTemporary,
		})
	}
	if err := writeJSONEntry(zw, filesMetadataEntry, records); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("failed to finalize backup %s", backupPath), err)
	}
	return out.Close()
}

func writeJSONEntry(zw *zip.Writer, name string, v any) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.NewDataIntegrationError(fmt.Sprintf("failed to write backup entry %s", name), err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.NewDataIntegrationError(fmt.Sprintf("failed to write backup entry %s", name), err)
	}
	return nil
}

func (m *Manager) writeFileEntry(zw *zip.Writer, projectID, rel string) error {
	w, err := zw.Create(rel)
	if err != nil {
		return errors.NewDataIntegrationError(fmt.Sprintf("failed to write backup entry %s", rel), err)
	}
	full, err := m.fs.ProjectFilePath(projectID, rel)
	if err != nil {
		return err
	}
	in, err := os.Open(full)
	if err != nil {
		return errors.NewDataIntegrationError(fmt.Sprintf("failed to read project file %s", rel), err)
	}
	defer in.Close()
	if _, err := io.Copy(w, in); err != nil {
		return errors.NewDataIntegrationError(fmt.Sprintf("failed to write backup entry %s", rel), err)
	}
	return nil
}

// RestoreProjectFromBackup recreates a project from a backup archive:
// project record, directory skeleton, extracted files and re-registered
// file references. When targetProjectID is empty the backed-up id is
// reused. Returns the restored project id.
func (m *Manager) RestoreProjectFromBackup(ctx context.Context, backupPath, targetProjectID string) (string, error) {
	reader, err := zip.OpenReader(backupPath)
	if err != nil {
		return "", restoreError("cannot open backup archive", err)
	}
	defer reader.Close()

	info, err := readBackupInfo(reader)
	if err != nil {
		return "", err
	}
	target := targetProjectID
	if target == "" {
		target = info.ProjectID
	}

	if err := m.AcquireOperationLock(target); err != nil {
		return "", err
	}
	defer m.ReleaseOperationLock(target)

	err = m.withFileLock(ctx, func() error {
		return m.restore(ctx, reader, info, target)
	})
	if err != nil {
		return "", err
	}
	logger.Infow("Restored project from backup",
		"project_id", target, "backup_path", backupPath, "backup_type", info.BackupType)
	return target, nil
}

func restoreError(detail string, cause error) error {
	return errors.NewDataIntegrationError(
		fmt.Sprintf("Failed to restore from backup: %s", detail), cause)
}

func readBackupInfo(reader *zip.ReadCloser) (*BackupInfo, error) {
	for _, f := range reader.File {
		if f.Name != backupInfoEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, restoreError("cannot read backup_info.json", err)
		}
		defer rc.Close()
		var info BackupInfo
		if err := json.NewDecoder(rc).Decode(&info); err != nil {
			return nil, restoreError("invalid backup_info.json", err)
		}
		if info.ProjectID == "" {
			return nil, restoreError("backup_info.json has no project id", nil)
		}
		return &info, nil
	}
	return nil, restoreError("backup_info.json not found in archive", nil)
}

func (m *Manager) restore(ctx context.Context, reader *zip.ReadCloser, info *BackupInfo, target string) error {
	subject, _ := info.ProjectData["title"].(string)
	targetLength, _ := info.ProjectData["target_length_minutes"].(float64)
	status, _ := info.ProjectData["status"].(string)

	if err := m.store.CreateProject(ctx, target, subject, targetLength, nil, status); err != nil {
		return restoreError(fmt.Sprintf("cannot create project %s", target), err)
	}
	if _, err := m.fs.CreateProjectDirectory(target); err != nil {
		return restoreError(fmt.Sprintf("cannot create project directory %s", target), err)
	}

	var records []*fileRecord
	for _, f := range reader.File {
		switch f.Name {
		case backupInfoEntry, noChangesEntry:
			continue
		case filesMetadataEntry:
			rc, err := f.Open()
			if err != nil {
				return restoreError("cannot read files_metadata.json", err)
			}
			err = json.NewDecoder(rc).Decode(&records)
			_ = rc.Close()
			if err != nil {
				return restoreError("invalid files_metadata.json", err)
			}
		default:
			if f.FileInfo().IsDir() {
				continue
			}
			if err := m.extractEntry(target, f); err != nil {
				return err
			}
		}
	}

	for _, rec := range records {
		_, err := m.store.RegisterFileReference(ctx, &storage.FileReference{
			ProjectID:   target,
			FileType:    normalizeFileType(rec.FileType, rec.FilePath),
			Category:    rec.Category,
			FilePath:    rec.FilePath,
			FileName:    rec.FileName,
			FileSize:    rec.FileSize,
			MimeType:    rec.MimeType,
			Metadata:    rec.Metadata,
			IsTemporary: rec.IsTemporary,
		})
		if err != nil {
			return restoreError(fmt.Sprintf("cannot register file %s", rec.FilePath), err)
		}
	}
	return nil
}

// extractEntry writes one archive member through the filesystem manager,
// which rejects absolute and parent-referencing member names.
func (m *Manager) extractEntry(target string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return restoreError(fmt.Sprintf("cannot read archive entry %s", f.Name), err)
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return restoreError(fmt.Sprintf("cannot read archive entry %s", f.Name), err)
	}
	if _, err := m.fs.CreateFile(target, f.Name, content); err != nil {
		return restoreError(fmt.Sprintf("cannot extract archive entry %s", f.Name), err)
	}
	return nil
}
