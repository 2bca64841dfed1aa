// Package storage defines the metadata persistence interfaces and record
// types for projects, workflow steps, file references and statistics.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when a record with the same key exists.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidData is returned when a payload fails structural validation.
	ErrInvalidData = errors.New("invalid data format")
)

// Project statuses.
const (
	ProjectStatusCreated    = "created"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusCompleted  = "completed"
	ProjectStatusFailed     = "failed"
	ProjectStatusCancelled  = "cancelled"
)

// File types accepted by the project_files table check constraint.
var ValidFileTypes = []string{
	"script", "audio", "video", "image", "subtitle", "thumbnail", "config", "metadata",
}

// File categories.
const (
	FileCategoryInput        = "input"
	FileCategoryIntermediate = "intermediate"
	FileCategoryOutput       = "output"
	FileCategoryTemp         = "temp"
	FileCategoryOther        = "other"
)

// Project is a stored project record.
type Project struct {
	ID            string
	Subject       string
	TargetLength  float64
	Status        string
	Config        map[string]any
	OutputSummary map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProjectUpdate carries the whitelisted mutable project fields. Nil fields
// are left unchanged.
type ProjectUpdate struct {
	Subject       *string
	TargetLength  *float64
	Status        *string
	Config        map[string]any
	OutputSummary map[string]any
}

// WorkflowStep is a stored per-project step record.
type WorkflowStep struct {
	ID           int64
	ProjectID    string
	StepNumber   int
	StepName     string
	Status       string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	InputData    map[string]any
	OutputData   map[string]any
	ErrorMessage string
	RetryCount   int
}

// FileReference is a stored file registration.
type FileReference struct {
	ID          int64
	ProjectID   string
	FileType    string
	Category    string
	FilePath    string
	FileName    string
	FileSize    int64
	MimeType    string
	Metadata    map[string]any
	IsTemporary bool
	CreatedAt   time.Time
}

// FileQuery filters file lookups. Nil/empty fields match everything.
type FileQuery struct {
	FileType    string
	Category    string
	IsTemporary *bool
}

// ProjectStatistics aggregates production metrics for a project.
type ProjectStatistics struct {
	ID             int64
	ProjectID      string
	TotalDuration  float64
	AudioDuration  float64
	VideoFileSize  int64
	ProcessingTime float64
	APICallsCount  int
	CreatedAt      time.Time
}

// ProjectStatus is the joint view of a project with its steps and files.
type ProjectStatus struct {
	Project       *Project
	WorkflowSteps []*WorkflowStep
	Files         []*FileReference
}

// ProjectStore is the metadata repository. All writes run inside explicit
// transactions; failures are wrapped with the offending operation in the
// message.
type ProjectStore interface {
	// CreateProject stores a new project, rejecting duplicate ids.
	CreateProject(ctx context.Context, id, subject string, targetLength float64, cfg map[string]any, status string) error

	// GetProject returns the project or ErrNotFound.
	GetProject(ctx context.Context, id string) (*Project, error)

	// UpdateProject applies the whitelisted fields and stamps updated_at.
	UpdateProject(ctx context.Context, id string, update ProjectUpdate) error

	// DeleteProject removes the project; child records cascade.
	DeleteProject(ctx context.Context, id string) error

	// CreateWorkflowStep stores a new step record.
	CreateWorkflowStep(ctx context.Context, projectID string, stepNumber int, stepName, status string, inputData map[string]any) error

	// GetWorkflowStep returns the step record or ErrNotFound.
	GetWorkflowStep(ctx context.Context, projectID, stepName string) (*WorkflowStep, error)

	// UpdateWorkflowStepStatus updates the status, stamping started_at on
	// running and completed_at on any terminal status.
	UpdateWorkflowStepStatus(ctx context.Context, projectID, stepName, status, errorMessage string) error

	// SaveStepResult marks the step terminal and persists its output data.
	SaveStepResult(ctx context.Context, projectID, stepName string, outputData map[string]any, status string) error

	// GetStepInput returns the completed previous pipeline step's output,
	// or nil when the step is not in the pipeline or has no predecessor
	// output.
	GetStepInput(ctx context.Context, projectID, stepName string) (map[string]any, error)

	// GetWorkflowSteps returns every step record ordered by step number.
	GetWorkflowSteps(ctx context.Context, projectID string) ([]*WorkflowStep, error)

	// RegisterFileReference stores a file registration and returns its id.
	RegisterFileReference(ctx context.Context, ref *FileReference) (int64, error)

	// GetFileReference returns the registration or ErrNotFound.
	GetFileReference(ctx context.Context, fileID int64) (*FileReference, error)

	// GetFilesByQuery returns the project's files matching the query,
	// ordered by creation time.
	GetFilesByQuery(ctx context.Context, projectID string, query FileQuery) ([]*FileReference, error)

	// UpdateFileMetadata merges updates into the stored metadata map.
	UpdateFileMetadata(ctx context.Context, fileID int64, updates map[string]any) error

	// DeleteFileReference removes the registration or returns ErrNotFound.
	DeleteFileReference(ctx context.Context, fileID int64) error

	// GetProjectStatus returns the joint project view or ErrNotFound.
	GetProjectStatus(ctx context.Context, projectID string) (*ProjectStatus, error)

	// SaveStatistics stores a statistics row for the project.
	SaveStatistics(ctx context.Context, stats *ProjectStatistics) (int64, error)

	// GetStatistics returns the newest statistics row or ErrNotFound.
	GetStatistics(ctx context.Context, projectID string) (*ProjectStatistics, error)

	// Close releases the underlying database resources.
	Close() error
}
