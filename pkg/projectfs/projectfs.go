// Package projectfs manages the per-project directory layout under a
// configurable base directory and guards every operation against path
// escapes.
package projectfs

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/yukkuristudio/flowkit/pkg/errors"
	"github.com/yukkuristudio/flowkit/pkg/logger"
)

// DefaultBaseDirectory is used when no base directory is configured.
const DefaultBaseDirectory = "projects"

// projectSubdirs is the skeleton created for every project.
var projectSubdirs = []string{
	"files/audio",
	"files/video",
	"files/images",
	"files/scripts",
	"files/metadata",
	"files/temp",
	"files/final",
	"files/backup",
	"files/original",
	"logs",
	"cache",
}

var invalidIDChars = regexp.MustCompile(`[<>:"|?*]`)

// temp cleanup patterns, matched against forward-slash relative paths.
var tempFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`.*\.(tmp|temp|cache)$`),
	regexp.MustCompile(`^cache/.*`),
	regexp.MustCompile(`^files/temp/.*`),
}

// FileMetadata describes a single file within a project directory.
type FileMetadata struct {
	RelativePath string    `json:"relative_path"`
	Size         int64     `json:"size"`
	ModifiedAt   time.Time `json:"modified_at"`
	CreatedAt    time.Time `json:"created_at"`
	MimeType     string    `json:"mime_type"`
	Permissions  string    `json:"permissions"`
}

// Manager provides safe file operations rooted at a base directory. Each
// project owns the subtree named by its id.
type Manager struct {
	baseDir string
}

// NewManager creates a manager rooted at baseDir, creating the directory
// when missing.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDirectory
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("failed to resolve base directory %s", baseDir), err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("failed to create base directory %s", abs), err)
	}
	return &Manager{baseDir: abs}, nil
}

// BaseDirectory returns the absolute base directory.
func (m *Manager) BaseDirectory() string {
	return m.baseDir
}

// ValidateProjectID rejects ids that could address outside the base
// directory.
func ValidateProjectID(projectID string) error {
	if projectID == "" ||
		strings.Contains(projectID, "..") ||
		strings.ContainsAny(projectID, `/\`) ||
		invalidIDChars.MatchString(projectID) {
		return errors.NewFileSystemError("Invalid project ID", nil)
	}
	return nil
}

// validateRelPath rejects absolute paths and parent references before any
// disk access.
func validateRelPath(relPath string) error {
	if relPath == "" {
		return errors.NewFileSystemError("empty file path", nil)
	}
	normalized := filepath.ToSlash(relPath)
	if filepath.IsAbs(relPath) || strings.HasPrefix(normalized, "/") {
		return errors.NewFileSystemError("absolute paths not allowed", nil)
	}
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return errors.NewFileSystemError("parent directory reference not allowed", nil)
		}
	}
	return nil
}

// ProjectDirectory returns the absolute directory for the project.
func (m *Manager) ProjectDirectory(projectID string) (string, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, projectID), nil
}

// resolve joins relPath to the project root and verifies the result is
// still contained in it.
func (m *Manager) resolve(projectID, relPath string) (string, error) {
	root, err := m.ProjectDirectory(projectID)
	if err != nil {
		return "", err
	}
	if err := validateRelPath(relPath); err != nil {
		return "", err
	}
	full := filepath.Clean(filepath.Join(root, filepath.FromSlash(relPath)))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", errors.NewFileSystemError("path traversal detected", nil)
	}
	return full, nil
}

// ProjectFilePath returns the absolute path for a project-relative file
// path after validation.
func (m *Manager) ProjectFilePath(projectID, relPath string) (string, error) {
	return m.resolve(projectID, relPath)
}

// CreateProjectDirectory creates the project directory and its subdirectory
// skeleton. Idempotent.
func (m *Manager) CreateProjectDirectory(projectID string) (string, error) {
	root, err := m.ProjectDirectory(projectID)
	if err != nil {
		return "", err
	}
	for _, sub := range projectSubdirs {
		dir := filepath.Join(root, filepath.FromSlash(sub))
		if err := os.MkdirAll(dir, 0750); err != nil {
			return "", errors.NewFileSystemError(fmt.Sprintf("failed to create directory %s", sub), err)
		}
	}
	logger.Debugw("Created project directory", "project_id", projectID, "path", root)
	return root, nil
}

// DeleteProjectDirectory removes the project directory and everything in
// it.
func (m *Manager) DeleteProjectDirectory(projectID string) error {
	root, err := m.ProjectDirectory(projectID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(root); err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("failed to delete project directory %s", projectID), err)
	}
	logger.Infow("Deleted project directory", "project_id", projectID)
	return nil
}

// CreateFile writes content to the project-relative path, creating parent
// directories as needed.
func (m *Manager) CreateFile(projectID, relPath string, content []byte) (string, error) {
	full, err := m.resolve(projectID, relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return "", errors.NewFileSystemError(fmt.Sprintf("failed to create parent directories for %s", relPath), err)
	}
	if err := os.WriteFile(full, content, 0600); err != nil {
		return "", errors.NewFileSystemError(fmt.Sprintf("failed to write file %s", relPath), err)
	}
	return full, nil
}

// ReadFile returns the file's contents.
func (m *Manager) ReadFile(projectID, relPath string) ([]byte, error) {
	full, err := m.resolve(projectID, relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("failed to read file %s", relPath), err)
	}
	return data, nil
}

// ReadTextFile returns the file's contents decoded as UTF-8 text.
func (m *Manager) ReadTextFile(projectID, relPath string) (string, error) {
	data, err := m.ReadFile(projectID, relPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeleteFile removes the file at the project-relative path.
func (m *Manager) DeleteFile(projectID, relPath string) error {
	full, err := m.resolve(projectID, relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("failed to delete file %s", relPath), err)
	}
	return nil
}

// MoveFile moves a file between two project-relative paths.
func (m *Manager) MoveFile(projectID, srcPath, dstPath string) error {
	src, err := m.resolve(projectID, srcPath)
	if err != nil {
		return err
	}
	dst, err := m.resolve(projectID, dstPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("failed to create parent directories for %s", dstPath), err)
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("failed to move file %s to %s", srcPath, dstPath), err)
	}
	return nil
}

// CopyFile copies a file between two project-relative paths.
func (m *Manager) CopyFile(projectID, srcPath, dstPath string) error {
	src, err := m.resolve(projectID, srcPath)
	if err != nil {
		return err
	}
	dst, err := m.resolve(projectID, dstPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("failed to create parent directories for %s", dstPath), err)
	}
	if err := copyFileContents(src, dst); err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("failed to copy file %s to %s", srcPath, dstPath), err)
	}
	return nil
}

func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// DirectorySize returns the recursive byte total of the project directory.
func (m *Manager) DirectorySize(projectID string) (int64, error) {
	root, err := m.ProjectDirectory(projectID)
	if err != nil {
		return 0, err
	}
	var total int64
	err = filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.NewFileSystemError(fmt.Sprintf("failed to compute directory size for %s", projectID), err)
	}
	return total, nil
}

// ListFiles returns the project-relative paths of files matching the glob
// pattern, sorted. The pattern matches either the full relative path or
// the file name, so "*" lists everything. Separators are normalized to
// forward slash.
func (m *Manager) ListFiles(projectID, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, errors.NewFileSystemError(fmt.Sprintf("invalid glob pattern %q", pattern), nil)
	}

	var files []string
	err := m.walkProjectFiles(projectID, func(rel string, _ os.FileInfo) error {
		matched, err := doublestar.Match(pattern, rel)
		if err != nil {
			return err
		}
		if !matched {
			if matched, err = doublestar.Match(pattern, filepath.Base(rel)); err != nil {
				return err
			}
		}
		if matched {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ProjectFileList returns metadata for every file in the project directory,
// sorted by relative path.
func (m *Manager) ProjectFileList(projectID string) ([]*FileMetadata, error) {
	var files []*FileMetadata
	err := m.walkProjectFiles(projectID, func(rel string, info os.FileInfo) error {
		files = append(files, fileMetadata(rel, info))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })
	return files, nil
}

// FileMetadata returns metadata for a single project-relative file.
func (m *Manager) FileMetadata(projectID, relPath string) (*FileMetadata, error) {
	full, err := m.resolve(projectID, relPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("failed to stat file %s", relPath), err)
	}
	return fileMetadata(filepath.ToSlash(relPath), info), nil
}

func fileMetadata(rel string, info os.FileInfo) *FileMetadata {
	return &FileMetadata{
		RelativePath: rel,
		Size:         info.Size(),
		ModifiedAt:   info.ModTime().UTC(),
		CreatedAt:    info.ModTime().UTC(),
		MimeType:     mime.TypeByExtension(filepath.Ext(rel)),
		Permissions:  info.Mode().Perm().String(),
	}
}

// CheckDiskSpace reports whether at least required bytes are available on
// the volume holding the base directory.
func (m *Manager) CheckDiskSpace(required uint64) (bool, error) {
	available, err := m.AvailableDiskSpace()
	if err != nil {
		return false, err
	}
	return available >= required, nil
}

// CleanupTemporaryFiles deletes files matching the temporary-file patterns
// and returns how many were removed. Files that cannot be removed are
// skipped with a warning.
func (m *Manager) CleanupTemporaryFiles(projectID string) (int, error) {
	return m.cleanupMatching(projectID, func(rel string, _ os.FileInfo) bool {
		for _, re := range tempFilePatterns {
			if re.MatchString(rel) {
				return true
			}
		}
		return false
	})
}

// CleanupOldFiles deletes files whose modification time is older than the
// given number of days.
func (m *Manager) CleanupOldFiles(projectID string, days int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	return m.cleanupMatching(projectID, func(_ string, info os.FileInfo) bool {
		return info.ModTime().Before(cutoff)
	})
}

func (m *Manager) cleanupMatching(projectID string, match func(rel string, info os.FileInfo) bool) (int, error) {
	root, err := m.ProjectDirectory(projectID)
	if err != nil {
		return 0, err
	}
	removed := 0
	err = m.walkProjectFiles(projectID, func(rel string, info os.FileInfo) error {
		if !match(rel, info) {
			return nil
		}
		if err := os.Remove(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			logger.Warnw("Failed to remove file during cleanup", "project_id", projectID, "path", rel, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		logger.Infow("Cleaned up files", "project_id", projectID, "removed", removed)
	}
	return removed, nil
}

// walkProjectFiles visits every regular file under the project directory
// with its forward-slash relative path. A missing project directory visits
// nothing.
func (m *Manager) walkProjectFiles(projectID string, visit func(rel string, info os.FileInfo) error) error {
	root, err := m.ProjectDirectory(projectID)
	if err != nil {
		return err
	}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return visit(filepath.ToSlash(rel), info)
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewFileSystemError(fmt.Sprintf("failed to walk project directory %s", projectID), err)
	}
	return nil
}
