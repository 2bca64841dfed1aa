package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukkuristudio/flowkit/pkg/projectfs"
	"github.com/yukkuristudio/flowkit/pkg/storage"
	"github.com/yukkuristudio/flowkit/pkg/storage/sqlite"
)

type testEnv struct {
	manager *Manager
	store   storage.ProjectStore
	fs      *projectfs.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := sqlite.NewProjectStore(context.Background(), filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fs, err := projectfs.NewManager(filepath.Join(dir, "projects"))
	require.NoError(t, err)

	return &testEnv{
		manager: NewManager(store, fs),
		store:   store,
		fs:      fs,
	}
}

func (e *testEnv) createProject(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.CreateProject(ctx, id, "history of tea", 5.0, nil, ""))
	_, err := e.fs.CreateProjectDirectory(id)
	require.NoError(t, err)
}

func (e *testEnv) writeFile(t *testing.T, projectID, rel, content string) {
	t.Helper()
	_, err := e.fs.CreateFile(projectID, rel, []byte(content))
	require.NoError(t, err)
}

func (e *testEnv) registerFile(t *testing.T, projectID, fileType, category, rel string, size int64) int64 {
	t.Helper()
	id, err := e.store.RegisterFileReference(context.Background(), &storage.FileReference{
		ProjectID: projectID,
		FileType:  fileType,
		Category:  category,
		FilePath:  rel,
		FileName:  filepath.Base(rel),
		FileSize:  size,
	})
	require.NoError(t, err)
	return id
}

func TestOperationLock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, env.manager.AcquireOperationLock("proj-1"))

	err := env.manager.AcquireOperationLock("proj-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation already in progress")

	// Other projects are unaffected.
	require.NoError(t, env.manager.AcquireOperationLock("proj-2"))
	env.manager.ReleaseOperationLock("proj-2")

	env.manager.ReleaseOperationLock("proj-1")
	assert.NoError(t, env.manager.AcquireOperationLock("proj-1"))
}

func TestSyncFilesToMetadataRegistersUnknownFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := newTestEnv(t)
	env.createProject(t, "proj-1")
	env.writeFile(t, "proj-1", "files/scripts/script.json", `{"lines": []}`)
	env.writeFile(t, "proj-1", "files/audio/voice.wav", "RIFF")
	env.writeFile(t, "proj-1", "files/temp/scratch.mp4", "x")
	env.writeFile(t, "proj-1", "files/final/out.mp4", "xx")
	env.writeFile(t, "proj-1", "files/original/source.txt", "src")

	report, err := env.manager.SyncFilesToMetadata(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, 5, report.AddedFiles)
	assert.Empty(t, report.Errors)

	refs, err := env.store.GetFilesByQuery(ctx, "proj-1", storage.FileQuery{})
	require.NoError(t, err)
	require.Len(t, refs, 5)

	byPath := map[string]*storage.FileReference{}
	for _, ref := range refs {
		byPath[ref.FilePath] = ref
	}
	assert.Equal(t, "script", byPath["files/scripts/script.json"].FileType)
	assert.Equal(t, "audio", byPath["files/audio/voice.wav"].FileType)
	assert.Equal(t, "video", byPath["files/temp/scratch.mp4"].FileType)
	assert.Equal(t, storage.FileCategoryTemp, byPath["files/temp/scratch.mp4"].Category)
	assert.True(t, byPath["files/temp/scratch.mp4"].IsTemporary)
	assert.Equal(t, storage.FileCategoryOutput, byPath["files/final/out.mp4"].Category)
	assert.Equal(t, storage.FileCategoryInput, byPath["files/original/source.txt"].Category)
	assert.Equal(t, storage.FileCategoryIntermediate, byPath["files/audio/voice.wav"].Category)

	// A second pass finds everything known and in agreement.
	report, err = env.manager.SyncFilesToMetadata(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 5, report.SyncedFiles)
	assert.Zero(t, report.AddedFiles)
}

func TestSyncMetadataToFilesCreatesPlaceholders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := newTestEnv(t)
	env.createProject(t, "proj-1")
	env.registerFile(t, "proj-1", "script", storage.FileCategoryOutput, "files/scripts/missing.json", 0)
	env.registerFile(t, "proj-1", "audio", storage.FileCategoryIntermediate, "files/audio/missing.wav", 10)

	report, err := env.manager.SyncMetadataToFiles(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, 1, report.AddedFiles)

	// Only the output reference gets a placeholder.
	text, err := env.fs.ReadTextFile("proj-1", "files/scripts/missing.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", text)
	_, err = env.fs.ReadFile("proj-1", "files/audio/missing.wav")
	assert.Error(t, err)
}

func TestSyncMetadataToFilesRecordsSizeConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := newTestEnv(t)
	env.createProject(t, "proj-1")
	env.writeFile(t, "proj-1", "files/audio/voice.wav", "four")
	env.registerFile(t, "proj-1", "audio", storage.FileCategoryIntermediate, "files/audio/voice.wav", 1024)

	report, err := env.manager.SyncMetadataToFiles(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)

	conflict := report.Conflicts[0]
	assert.Equal(t, ConflictSizeMismatch, conflict.Type)
	assert.Equal(t, "files/audio/voice.wav", conflict.FilePath)
	assert.Equal(t, int64(1024), conflict.RepositoryInfo["file_size"])
	assert.Equal(t, int64(4), conflict.FilesystemInfo["file_size"])
}

func TestSyncFilesToMetadataUpdatesDivergedSize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := newTestEnv(t)
	env.createProject(t, "proj-1")
	env.writeFile(t, "proj-1", "files/audio/voice.wav", "longer content")
	id := env.registerFile(t, "proj-1", "audio", storage.FileCategoryIntermediate, "files/audio/voice.wav", 1)

	report, err := env.manager.SyncFilesToMetadata(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.UpdatedFiles)

	ref, err := env.store.GetFileReference(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float64(14), ref.Metadata["actual_size"])
}

func TestSyncBidirectionalLeavesConsistentState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := newTestEnv(t)
	env.createProject(t, "proj-1")
	env.writeFile(t, "proj-1", "files/scripts/script.json", `{"a":1}`)
	env.writeFile(t, "proj-1", "files/audio/voice.wav", "RIFF")

	assert.Nil(t, env.manager.LastSyncReport("proj-1"))

	report, err := env.manager.SyncBidirectional(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, DirectionBidirectional, report.Direction)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Same(t, report, env.manager.LastSyncReport("proj-1"))

	integrity, err := env.manager.CheckIntegrity(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, integrity.Status)
}

func TestCheckIntegrityClassifiesDiscrepancies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := newTestEnv(t)
	env.createProject(t, "proj-1")

	// In repo, not on disk.
	env.registerFile(t, "proj-1", "audio", storage.FileCategoryIntermediate, "files/audio/missing.wav", 1024)
	// On disk, not in repo.
	env.writeFile(t, "proj-1", "files/scripts/orphaned.txt", "orphan")
	// Sizes diverge.
	env.writeFile(t, "proj-1", "files/video/out.mp4", "tiny")
	env.registerFile(t, "proj-1", "video", storage.FileCategoryOutput, "files/video/out.mp4", 9000)
	// Fully consistent.
	env.writeFile(t, "proj-1", "files/audio/ok.wav", "RIFF")
	env.registerFile(t, "proj-1", "audio", storage.FileCategoryIntermediate, "files/audio/ok.wav", 4)

	report, err := env.manager.CheckIntegrity(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInconsistent, report.Status)
	// Union of repository references and on-disk files: missing.wav,
	// out.mp4, ok.wav, orphaned.txt.
	assert.Equal(t, 4, report.TotalFiles)
	assert.Equal(t, 1, report.ConsistentFiles)
	require.Len(t, report.Inconsistencies, 3)
	require.Len(t, report.OrphanedFiles, 1)
	assert.Equal(t, "files/scripts/orphaned.txt", report.OrphanedFiles[0])

	byType := map[string]*Inconsistency{}
	for _, inc := range report.Inconsistencies {
		byType[inc.Type] = inc
	}
	assert.Equal(t, "files/audio/missing.wav", byType[InconsistencyMissingFile].FilePath)
	assert.Equal(t, "files/scripts/orphaned.txt", byType[InconsistencyOrphanedFile].FilePath)
	assert.Equal(t, int64(9000), byType[InconsistencySizeMismatch].ExpectedSize)
	assert.Equal(t, int64(4), byType[InconsistencySizeMismatch].ActualSize)
}

func TestAutoRepairResolvesMissingAndOrphaned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := newTestEnv(t)
	env.createProject(t, "proj-1")
	env.registerFile(t, "proj-1", "audio", storage.FileCategoryIntermediate, "files/audio/missing.wav", 1024)
	env.writeFile(t, "proj-1", "files/scripts/orphaned.txt", "orphan")

	repair, err := env.manager.AutoRepairIntegrity(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, repair.Status)
	assert.Equal(t, []string{"files/audio/missing.wav"}, repair.RemovedReferences)
	assert.Equal(t, []string{"files/scripts/orphaned.txt"}, repair.RegisteredFiles)
	assert.Empty(t, repair.Errors)

	report, err := env.manager.CheckIntegrity(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Status)

	refs, err := env.store.GetFilesByQuery(ctx, "proj-1", storage.FileQuery{})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "script", refs[0].FileType)
	assert.Equal(t, int64(6), refs[0].FileSize)
}

func TestAutoRepairNothingToDo(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.createProject(t, "proj-1")

	repair, err := env.manager.AutoRepairIntegrity(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, StatusNoRepairNeeded, repair.Status)
}

func TestSyncRejectedWhileLocked(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.createProject(t, "proj-1")
	require.NoError(t, env.manager.AcquireOperationLock("proj-1"))
	defer env.manager.ReleaseOperationLock("proj-1")

	_, err := env.manager.SyncBidirectional(context.Background(), "proj-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation already in progress")
}
