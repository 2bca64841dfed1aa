package integration

import "time"

// Sync directions.
const (
	DirectionMetadataToFiles = "metadata_to_files"
	DirectionFilesToMetadata = "files_to_metadata"
	DirectionBidirectional   = "bidirectional"
)

// Sync and repair statuses.
const (
	StatusSuccess        = "success"
	StatusPartial        = "partial"
	StatusFailed         = "failed"
	StatusCompleted      = "completed"
	StatusNoRepairNeeded = "no_repair_needed"
	StatusInconsistent   = "inconsistent"
)

// Conflict types recorded during sync.
const (
	ConflictSizeMismatch      = "size_mismatch"
	ConflictTimestampMismatch = "timestamp_mismatch"
	ConflictMetadataMismatch  = "metadata_mismatch"
)

// Inconsistency types found by the integrity check.
const (
	InconsistencyMissingFile  = "missing_file"
	InconsistencyOrphanedFile = "orphaned_file"
	InconsistencySizeMismatch = "size_mismatch"
)

// ConflictInfo records a discrepancy between a repository record and the
// file on disk, with both sides' view.
type ConflictInfo struct {
	FilePath       string         `json:"file_path"`
	Type           string         `json:"type"`
	RepositoryInfo map[string]any `json:"repository_info"`
	FilesystemInfo map[string]any `json:"filesystem_info"`
}

// SyncReport summarizes one sync run.
type SyncReport struct {
	ProjectID    string          `json:"project_id"`
	Direction    string          `json:"direction"`
	Status       string          `json:"status"`
	TotalFiles   int             `json:"total_files"`
	SyncedFiles  int             `json:"synced_files"`
	AddedFiles   int             `json:"added_files"`
	UpdatedFiles int             `json:"updated_files"`
	Conflicts    []*ConflictInfo `json:"conflicts"`
	Errors       []string        `json:"errors"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// Inconsistency is one integrity-check finding.
type Inconsistency struct {
	Type         string `json:"type"`
	FilePath     string `json:"file_path"`
	FileID       int64  `json:"file_id,omitempty"`
	Detail       string `json:"detail,omitempty"`
	ExpectedSize int64  `json:"expected_size,omitempty"`
	ActualSize   int64  `json:"actual_size,omitempty"`
}

// IntegrityReport is the outcome of comparing repository records against
// the project directory.
type IntegrityReport struct {
	ProjectID       string           `json:"project_id"`
	Status          string           `json:"status"`
	TotalFiles      int              `json:"total_files"`
	ConsistentFiles int              `json:"consistent_files"`
	Inconsistencies []*Inconsistency `json:"inconsistencies"`
	OrphanedFiles   []string         `json:"orphaned_files"`
	CheckedAt       time.Time        `json:"checked_at"`
}

// RepairReport summarizes an auto-repair run.
type RepairReport struct {
	ProjectID         string   `json:"project_id"`
	Status            string   `json:"status"`
	RemovedReferences []string `json:"removed_references"`
	RegisteredFiles   []string `json:"registered_files"`
	Errors            []string `json:"errors"`
}

// BackupInfo is the manifest stored as backup_info.json inside every
// backup archive.
type BackupInfo struct {
	ProjectID   string         `json:"project_id"`
	BackupType  string         `json:"backup_type"`
	Timestamp   string         `json:"timestamp"`
	ProjectData map[string]any `json:"project_data"`
	BaseBackup  string         `json:"base_backup,omitempty"`
}

// Backup types.
const (
	BackupTypeFull        = "full"
	BackupTypeIncremental = "incremental"
)

// Reserved archive member names that are never extracted as project files.
const (
	backupInfoEntry    = "backup_info.json"
	filesMetadataEntry = "files_metadata.json"
	noChangesEntry     = "no_changes.txt"
)
