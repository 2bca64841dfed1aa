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

// CheckIntegrity compares the repository's file references against the
// project directory and classifies every discrepancy.
func (m *Manager) CheckIntegrity(ctx context.Context, projectID string) (*IntegrityReport, error) {
	refs, err := m.store.GetFilesByQuery(ctx, projectID, storage.FileQuery{})
	if err != nil {
		return nil, errors.NewDataIntegrationError(
			fmt.Sprintf("failed to list file references for project %s", projectID), err)
	}
	paths, err := m.fs.ListFiles(projectID, "*")
	if err != nil {
		return nil, errors.NewDataIntegrationError(
			fmt.Sprintf("failed to list project files for project %s", projectID), err)
	}

	onDisk := make(map[string]struct{}, len(paths))
	for _, rel := range paths {
		onDisk[rel] = struct{}{}
	}

	report := &IntegrityReport{
		ProjectID:       projectID,
		Inconsistencies: []*Inconsistency{},
		OrphanedFiles:   []string{},
		CheckedAt:       time.Now().UTC(),
	}

	referenced := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		rel := filepath.ToSlash(ref.FilePath)
		referenced[rel] = struct{}{}
		report.TotalFiles++

		full, err := m.fs.ProjectFilePath(projectID, ref.FilePath)
		if err != nil {
			report.Inconsistencies = append(report.Inconsistencies, &Inconsistency{
				Type:     InconsistencyMissingFile,
				FilePath: rel,
				FileID:   ref.ID,
				Detail:   err.Error(),
			})
			continue
		}
		info, statErr := os.Stat(full)
		if statErr != nil {
			report.Inconsistencies = append(report.Inconsistencies, &Inconsistency{
				Type:     InconsistencyMissingFile,
				FilePath: rel,
				FileID:   ref.ID,
				Detail:   "referenced file does not exist",
			})
			continue
		}
		if info.Size() != ref.FileSize {
			report.Inconsistencies = append(report.Inconsistencies, &Inconsistency{
				Type:         InconsistencySizeMismatch,
				FilePath:     rel,
				FileID:       ref.ID,
				ExpectedSize: ref.FileSize,
				ActualSize:   info.Size(),
			})
			continue
		}
		report.ConsistentFiles++
	}

	for _, rel := range paths {
		if _, ok := referenced[rel]; ok {
			continue
		}
		report.TotalFiles++
		report.OrphanedFiles = append(report.OrphanedFiles, rel)
		report.Inconsistencies = append(report.Inconsistencies, &Inconsistency{
			Type:     InconsistencyOrphanedFile,
			FilePath: rel,
			Detail:   "file exists on disk without a repository record",
		})
	}

	if len(report.Inconsistencies) == 0 {
		report.Status = StatusSuccess
	} else {
		report.Status = StatusInconsistent
	}
	return report, nil
}

// AutoRepairIntegrity resolves every repairable inconsistency: dangling
// references are removed, orphaned files are registered with inferred type
// and category.
func (m *Manager) AutoRepairIntegrity(ctx context.Context, projectID string) (*RepairReport, error) {
	if err := m.AcquireOperationLock(projectID); err != nil {
		return nil, err
	}
	defer m.ReleaseOperationLock(projectID)

	integrity, err := m.CheckIntegrity(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{
		ProjectID:         projectID,
		RemovedReferences: []string{},
		RegisteredFiles:   []string{},
		Errors:            []string{},
	}
	if integrity.Status == StatusSuccess {
		report.Status = StatusNoRepairNeeded
		return report, nil
	}

	attempted := 0
	for _, inc := range integrity.Inconsistencies {
		switch inc.Type {
		case InconsistencyMissingFile:
			attempted++
			if err := m.dropFileReference(ctx, projectID, inc.FilePath); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", inc.FilePath, err))
				continue
			}
			report.RemovedReferences = append(report.RemovedReferences, inc.FilePath)

		case InconsistencyOrphanedFile:
			attempted++
			if err := m.registerOrphan(ctx, projectID, inc.FilePath); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", inc.FilePath, err))
				continue
			}
			report.RegisteredFiles = append(report.RegisteredFiles, inc.FilePath)

		case InconsistencySizeMismatch:
			// Size mismatches need a human decision; left for sync.
		}
	}

	repaired := len(report.RemovedReferences) + len(report.RegisteredFiles)
	switch {
	case attempted == 0:
		report.Status = StatusNoRepairNeeded
	case len(report.Errors) == 0:
		report.Status = StatusCompleted
	case repaired > 0:
		report.Status = StatusPartial
	default:
		report.Status = StatusFailed
	}
	logger.Infow("Auto-repair finished",
		"project_id", projectID,
		"status", report.Status,
		"removed_references", len(report.RemovedReferences),
		"registered_files", len(report.RegisteredFiles),
		"errors", len(report.Errors))
	return report, nil
}

// dropFileReference deletes the reference whose path matches rel. The
// store has no delete-by-path, so the row is looked up first.
func (m *Manager) dropFileReference(ctx context.Context, projectID, rel string) error {
	refs, err := m.store.GetFilesByQuery(ctx, projectID, storage.FileQuery{})
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if filepath.ToSlash(ref.FilePath) == rel {
			return m.store.DeleteFileReference(ctx, ref.ID)
		}
	}
	return nil
}

func (m *Manager) registerOrphan(ctx context.Context, projectID, rel string) error {
	md, err := m.fs.FileMetadata(projectID, rel)
	if err != nil {
		return err
	}
	_, err = m.store.RegisterFileReference(ctx, &storage.FileReference{
		ProjectID:   projectID,
		FileType:    inferFileType(rel),
		Category:    inferFileCategory(rel),
		FilePath:    rel,
		FileName:    filepath.Base(rel),
		FileSize:    md.Size,
		MimeType:    md.MimeType,
		IsTemporary: inferFileCategory(rel) == storage.FileCategoryTemp,
	})
	return err
}
