package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yukkuristudio/flowkit/pkg/errors"
	"github.com/yukkuristudio/flowkit/pkg/logger"
	"github.com/yukkuristudio/flowkit/pkg/storage"
)

// SyncMetadataToFiles walks the repository's file references and makes the
// filesystem agree: missing output files get a placeholder, present files
// are checked for size conflicts.
func (m *Manager) SyncMetadataToFiles(ctx context.Context, projectID string) (*SyncReport, error) {
	if err := m.AcquireOperationLock(projectID); err != nil {
		return nil, err
	}
	defer m.ReleaseOperationLock(projectID)

	report := newReport(projectID, DirectionMetadataToFiles)
	if err := m.syncMetadataToFiles(ctx, projectID, report); err != nil {
		return nil, err
	}
	finishReport(report)
	m.recordSyncReport(report)
	return report, nil
}

// SyncFilesToMetadata walks the project directory and makes the repository
// agree: unknown files get registered with inferred type and category,
// known files get their recorded metadata refreshed when sizes diverge.
func (m *Manager) SyncFilesToMetadata(ctx context.Context, projectID string) (*SyncReport, error) {
	if err := m.AcquireOperationLock(projectID); err != nil {
		return nil, err
	}
	defer m.ReleaseOperationLock(projectID)

	report := newReport(projectID, DirectionFilesToMetadata)
	if err := m.syncFilesToMetadata(ctx, projectID, report); err != nil {
		return nil, err
	}
	finishReport(report)
	m.recordSyncReport(report)
	return report, nil
}

// SyncBidirectional runs files-to-metadata then metadata-to-files, sharing
// one report.
func (m *Manager) SyncBidirectional(ctx context.Context, projectID string) (*SyncReport, error) {
	if err := m.AcquireOperationLock(projectID); err != nil {
		return nil, err
	}
	defer m.ReleaseOperationLock(projectID)

	report := newReport(projectID, DirectionBidirectional)
	if err := m.syncFilesToMetadata(ctx, projectID, report); err != nil {
		return nil, err
	}
	if err := m.syncMetadataToFiles(ctx, projectID, report); err != nil {
		return nil, err
	}
	finishReport(report)
	m.recordSyncReport(report)
	return report, nil
}

func newReport(projectID, direction string) *SyncReport {
	return &SyncReport{
		ProjectID: projectID,
		Direction: direction,
		Conflicts: []*ConflictInfo{},
		Errors:    []string{},
		StartedAt: time.Now().UTC(),
	}
}

// finishReport derives the final status from the counters gathered so far.
func finishReport(report *SyncReport) {
	report.CompletedAt = time.Now().UTC()
	switch {
	case len(report.Errors) == 0:
		report.Status = StatusSuccess
	case report.SyncedFiles+report.AddedFiles+report.UpdatedFiles > 0:
		report.Status = StatusPartial
	default:
		report.Status = StatusFailed
	}
	logger.Infow("Sync finished",
		"project_id", report.ProjectID,
		"direction", report.Direction,
		"status", report.Status,
		"synced", report.SyncedFiles,
		"added", report.AddedFiles,
		"updated", report.UpdatedFiles,
		"conflicts", len(report.Conflicts),
		"errors", len(report.Errors))
}

func (m *Manager) syncMetadataToFiles(ctx context.Context, projectID string, report *SyncReport) error {
	refs, err := m.store.GetFilesByQuery(ctx, projectID, storage.FileQuery{})
	if err != nil {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("failed to list file references for project %s", projectID), err)
	}
	report.TotalFiles += len(refs)

	for _, ref := range refs {
		full, err := m.fs.ProjectFilePath(projectID, ref.FilePath)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", ref.FilePath, err))
			continue
		}
		info, statErr := os.Stat(full)
		if statErr != nil {
			if !os.IsNotExist(statErr) {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", ref.FilePath, statErr))
				continue
			}
			if ref.Category != storage.FileCategoryOutput {
				continue
			}
			if _, err := m.fs.CreateFile(projectID, ref.FilePath, placeholderContent(ref.FileType)); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", ref.FilePath, err))
				continue
			}
			report.AddedFiles++
			continue
		}

		if info.Size() != ref.FileSize {
			report.Conflicts = append(report.Conflicts, &ConflictInfo{
				FilePath: ref.FilePath,
				Type:     ConflictSizeMismatch,
				RepositoryInfo: map[string]any{
					"file_size": ref.FileSize,
					"file_type": ref.FileType,
				},
				FilesystemInfo: map[string]any{
					"file_size":   info.Size(),
					"modified_at": info.ModTime().UTC(),
				},
			})
			continue
		}
		report.SyncedFiles++
	}
	return nil
}

// placeholderContent synthesizes minimal content for a missing output
// file so downstream consumers find a parseable artifact.
func placeholderContent(fileType string) []byte {
	if fileType == "script" || fileType == "metadata" || fileType == "config" {
		return []byte("{}")
	}
	return []byte{}
}

func (m *Manager) syncFilesToMetadata(ctx context.Context, projectID string, report *SyncReport) error {
	refs, err := m.store.GetFilesByQuery(ctx, projectID, storage.FileQuery{})
	if err != nil {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("failed to list file references for project %s", projectID), err)
	}
	known := make(map[string]*storage.FileReference, len(refs))
	for _, ref := range refs {
		known[filepath.ToSlash(ref.FilePath)] = ref
	}

	paths, err := m.fs.ListFiles(projectID, "*")
	if err != nil {
		return errors.NewDataIntegrationError(
			fmt.Sprintf("failed to list project files for project %s", projectID), err)
	}
	report.TotalFiles += len(paths)

	for _, rel := range paths {
		md, err := m.fs.FileMetadata(projectID, rel)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, err))
			continue
		}

		ref, exists := known[rel]
		if !exists {
			_, err := m.store.RegisterFileReference(ctx, &storage.FileReference{
				ProjectID:   projectID,
				FileType:    inferFileType(rel),
				Category:    inferFileCategory(rel),
				FilePath:    rel,
				FileName:    filepath.Base(rel),
				FileSize:    md.Size,
				MimeType:    md.MimeType,
				IsTemporary: inferFileCategory(rel) == storage.FileCategoryTemp,
			})
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, err))
				continue
			}
			report.AddedFiles++
			continue
		}

		if ref.FileSize != md.Size {
			err := m.store.UpdateFileMetadata(ctx, ref.ID, map[string]any{
				"actual_size":     md.Size,
				"size_checked_at": time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, err))
				continue
			}
			report.UpdatedFiles++
			continue
		}
		report.SyncedFiles++
	}
	return nil
}
