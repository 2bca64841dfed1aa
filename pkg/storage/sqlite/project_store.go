package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	flowerrors "github.com/yukkuristudio/flowkit/pkg/errors"
	"github.com/yukkuristudio/flowkit/pkg/logger"
	"github.com/yukkuristudio/flowkit/pkg/storage"
)

// pipelineStepOrder is the production pipeline's hard-coded step numbering,
// used by GetStepInput to resolve a step's predecessor.
var pipelineStepOrder = map[string]int{
	"theme_selection":        1,
	"script_generation":      2,
	"title_generation":       3,
	"tts_generation":         4,
	"character_synthesis":    5,
	"background_generation":  6,
	"background_animation":   7,
	"subtitle_generation":    8,
	"video_composition":      9,
	"audio_enhancement":      10,
	"illustration_insertion": 11,
	"final_encoding":         12,
	"youtube_upload":         13,
}

// PipelineStepNumber returns the production pipeline ordinal for a step
// name, or false when the step is not part of the pipeline.
func PipelineStepNumber(stepName string) (int, bool) {
	n, ok := pipelineStepOrder[stepName]
	return n, ok
}

// ProjectStore implements storage.ProjectStore on SQLite.
type ProjectStore struct {
	db *sql.DB
}

var _ storage.ProjectStore = (*ProjectStore)(nil)

// NewProjectStore opens (creating if necessary) the database at path,
// applies migrations and returns the store.
func NewProjectStore(ctx context.Context, path string) (*ProjectStore, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to open project database %s", path), err)
	}
	return &ProjectStore{db: db}, nil
}

// Close closes the underlying database.
func (s *ProjectStore) Close() error {
	return s.db.Close()
}

const timestampLayout = "2006-01-02 15:04:05"

func nowStamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

func parseStamp(value string) time.Time {
	for _, layout := range []string{timestampLayout, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func encodeJSON(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return string(data), nil
}

func decodeJSON(data string) map[string]any {
	if data == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// isUniqueViolation checks for a SQLite UNIQUE or PRIMARY KEY constraint
// violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// CreateProject stores a new project record.
func (s *ProjectStore) CreateProject(
	ctx context.Context, id, subject string, targetLength float64, cfg map[string]any, status string,
) error {
	if status == "" {
		status = storage.ProjectStatusCreated
	}
	configJSON, err := encodeJSON(cfg)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to create project %s", id), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to create project %s", id), err)
	}
	defer rollback(tx)

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM projects WHERE id = ?`, id).Scan(&existing)
	if err == nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("project with id %q already exists", id), storage.ErrAlreadyExists)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to create project %s", id), err)
	}

	now := nowStamp()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, subject, target_length, status, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, subject, targetLength, status, configJSON, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = storage.ErrAlreadyExists
		}
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to create project %s", id), err)
	}

	if err := tx.Commit(); err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to create project %s", id), err)
	}

	logger.Infow("project created", "project_id", id)
	return nil
}

const projectColumns = `id, subject, target_length, status, config_json, output_summary_json, created_at, updated_at`

func scanProject(row *sql.Row) (*storage.Project, error) {
	var (
		p                    storage.Project
		configJSON           string
		summaryJSON          string
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.Subject, &p.TargetLength, &p.Status,
		&configJSON, &summaryJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Config = decodeJSON(configJSON)
	p.OutputSummary = decodeJSON(summaryJSON)
	p.CreatedAt = parseStamp(createdAt)
	p.UpdatedAt = parseStamp(updatedAt)
	return &p, nil
}

// GetProject returns the project record.
func (s *ProjectStore) GetProject(ctx context.Context, id string) (*storage.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("database error retrieving project %s", id), err)
	}
	return p, nil
}

// UpdateProject applies the whitelisted mutable fields.
func (s *ProjectStore) UpdateProject(ctx context.Context, id string, update storage.ProjectUpdate) error {
	var (
		sets   []string
		params []any
	)
	if update.Subject != nil {
		sets = append(sets, "subject = ?")
		params = append(params, *update.Subject)
	}
	if update.TargetLength != nil {
		sets = append(sets, "target_length = ?")
		params = append(params, *update.TargetLength)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		params = append(params, *update.Status)
	}
	if update.Config != nil {
		configJSON, err := encodeJSON(update.Config)
		if err != nil {
			return flowerrors.NewProjectDataAccessError(
				fmt.Sprintf("failed to update project %s", id), err)
		}
		sets = append(sets, "config_json = ?")
		params = append(params, configJSON)
	}
	if update.OutputSummary != nil {
		summaryJSON, err := encodeJSON(update.OutputSummary)
		if err != nil {
			return flowerrors.NewProjectDataAccessError(
				fmt.Sprintf("failed to update project %s", id), err)
		}
		sets = append(sets, "output_summary_json = ?")
		params = append(params, summaryJSON)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	params = append(params, nowStamp(), id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update project %s", id), err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id = ?`, params...)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update project %s", id), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update project %s", id), err)
	}
	if affected == 0 {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("project %q not found", id), storage.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update project %s", id), err)
	}

	logger.Infow("project updated", "project_id", id)
	return nil
}

// DeleteProject removes the project; workflow steps, files and statistics
// cascade via foreign keys.
func (s *ProjectStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to delete project %s", id), err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to delete project %s", id), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to delete project %s", id), err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to delete project %s", id), err)
	}

	logger.Infow("project deleted", "project_id", id)
	return nil
}

// CreateWorkflowStep stores a new step record for the project.
func (s *ProjectStore) CreateWorkflowStep(
	ctx context.Context, projectID string, stepNumber int, stepName, status string, inputData map[string]any,
) error {
	if status == "" {
		status = "pending"
	}
	inputJSON, err := encodeJSON(inputData)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to create workflow step %s", stepName), storage.ErrInvalidData)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to create workflow step %s", stepName), err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_steps (project_id, step_number, step_name, status, input_data_json)
		VALUES (?, ?, ?, ?, ?)`,
		projectID, stepNumber, stepName, status, inputJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = storage.ErrAlreadyExists
		}
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to create workflow step %s", stepName), err)
	}

	if err := tx.Commit(); err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to create workflow step %s", stepName), err)
	}

	logger.Infow("workflow step created", "project_id", projectID, "step_name", stepName)
	return nil
}

const stepColumns = `id, project_id, step_number, step_name, status, started_at, completed_at,
	input_data_json, output_data_json, error_message, retry_count`

func scanStep(scan func(dest ...any) error) (*storage.WorkflowStep, error) {
	var (
		step                   storage.WorkflowStep
		startedAt, completedAt sql.NullString
		inputJSON, outputJSON  string
		errorMessage           sql.NullString
	)
	err := scan(&step.ID, &step.ProjectID, &step.StepNumber, &step.StepName, &step.Status,
		&startedAt, &completedAt, &inputJSON, &outputJSON, &errorMessage, &step.RetryCount)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := parseStamp(startedAt.String)
		step.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseStamp(completedAt.String)
		step.CompletedAt = &t
	}
	step.InputData = decodeJSON(inputJSON)
	step.OutputData = decodeJSON(outputJSON)
	step.ErrorMessage = errorMessage.String
	return &step, nil
}

// GetWorkflowStep returns the step record for the project.
func (s *ProjectStore) GetWorkflowStep(ctx context.Context, projectID, stepName string) (*storage.WorkflowStep, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE project_id = ? AND step_name = ?`,
		projectID, stepName)
	step, err := scanStep(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("database error retrieving workflow step %s", stepName), err)
	}
	return step, nil
}

// UpdateWorkflowStepStatus updates the step status. The running status
// stamps started_at; completed, failed, skipped and cancelled stamp
// completed_at.
func (s *ProjectStore) UpdateWorkflowStepStatus(
	ctx context.Context, projectID, stepName, status, errorMessage string,
) error {
	sets := []string{"status = ?"}
	params := []any{status}

	switch status {
	case "running":
		sets = append(sets, "started_at = ?")
		params = append(params, nowStamp())
	case "completed", "failed", "skipped", "cancelled":
		sets = append(sets, "completed_at = ?")
		params = append(params, nowStamp())
	}
	if errorMessage != "" {
		sets = append(sets, "error_message = ?")
		params = append(params, errorMessage)
	}
	params = append(params, projectID, stepName)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update workflow step status for %s", stepName), err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE workflow_steps SET `+strings.Join(sets, ", ")+` WHERE project_id = ? AND step_name = ?`,
		params...)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update workflow step status for %s", stepName), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update workflow step status for %s", stepName), err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update workflow step status for %s", stepName), err)
	}

	logger.Infow("workflow step status updated",
		"project_id", projectID, "step_name", stepName, "status", status)
	return nil
}

// SaveStepResult marks the step terminal and persists its output data.
func (s *ProjectStore) SaveStepResult(
	ctx context.Context, projectID, stepName string, outputData map[string]any, status string,
) error {
	if status == "" {
		status = "completed"
	}
	outputJSON, err := encodeJSON(outputData)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to save step result for %s", stepName), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to save step result for %s", stepName), err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_steps SET status = ?, output_data_json = ?, completed_at = ?
		WHERE project_id = ? AND step_name = ?`,
		status, outputJSON, nowStamp(), projectID, stepName,
	)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to save step result for %s", stepName), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to save step result for %s", stepName), err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to save step result for %s", stepName), err)
	}

	logger.Infow("step result saved", "project_id", projectID, "step_name", stepName)
	return nil
}

// GetStepInput resolves the previous production-pipeline step and returns
// its output data, or nil when there is no completed predecessor output.
func (s *ProjectStore) GetStepInput(ctx context.Context, projectID, stepName string) (map[string]any, error) {
	stepNumber, ok := pipelineStepOrder[stepName]
	if !ok || stepNumber == 1 {
		return nil, nil
	}

	var outputJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT output_data_json FROM workflow_steps
		WHERE project_id = ? AND step_number = ? AND status = 'completed'`,
		projectID, stepNumber-1,
	).Scan(&outputJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to get step input for %s", stepName), err)
	}
	if !outputJSON.Valid || outputJSON.String == "" {
		return nil, nil
	}
	return decodeJSON(outputJSON.String), nil
}

// GetWorkflowSteps returns every step record, ordered by step number.
func (s *ProjectStore) GetWorkflowSteps(ctx context.Context, projectID string) ([]*storage.WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE project_id = ? ORDER BY step_number`,
		projectID)
	if err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to get workflow steps for project %s", projectID), err)
	}
	defer rows.Close()

	var steps []*storage.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows.Scan)
		if err != nil {
			return nil, flowerrors.NewProjectDataAccessError(
				fmt.Sprintf("failed to get workflow steps for project %s", projectID), err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to get workflow steps for project %s", projectID), err)
	}
	return steps, nil
}

// RegisterFileReference stores a file registration and returns its auto id.
func (s *ProjectStore) RegisterFileReference(ctx context.Context, ref *storage.FileReference) (int64, error) {
	metadataJSON, err := encodeJSON(ref.Metadata)
	if err != nil {
		return 0, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to register file reference %s", ref.FilePath), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to register file reference %s", ref.FilePath), err)
	}
	defer rollback(tx)

	var mime any
	if ref.MimeType != "" {
		mime = ref.MimeType
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO project_files (
			project_id, file_type, file_category, file_path, file_name,
			file_size, mime_type, metadata_json, is_temporary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ProjectID, ref.FileType, ref.Category, ref.FilePath, ref.FileName,
		ref.FileSize, mime, metadataJSON, ref.IsTemporary, nowStamp(),
	)
	if err != nil {
		return 0, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to register file reference %s", ref.FilePath), err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return 0, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to register file reference %s", ref.FilePath), err)
	}

	if err := tx.Commit(); err != nil {
		return 0, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to register file reference %s", ref.FilePath), err)
	}

	logger.Infow("file reference registered", "file_id", fileID, "file_path", ref.FilePath)
	return fileID, nil
}

const fileColumns = `id, project_id, file_type, file_category, file_path, file_name,
	file_size, mime_type, metadata_json, is_temporary, created_at`

func scanFile(scan func(dest ...any) error) (*storage.FileReference, error) {
	var (
		ref          storage.FileReference
		mimeType     sql.NullString
		metadataJSON string
		createdAt    string
	)
	err := scan(&ref.ID, &ref.ProjectID, &ref.FileType, &ref.Category, &ref.FilePath,
		&ref.FileName, &ref.FileSize, &mimeType, &metadataJSON, &ref.IsTemporary, &createdAt)
	if err != nil {
		return nil, err
	}
	ref.MimeType = mimeType.String
	ref.Metadata = decodeJSON(metadataJSON)
	ref.CreatedAt = parseStamp(createdAt)
	return &ref, nil
}

// GetFileReference returns the registration by id.
func (s *ProjectStore) GetFileReference(ctx context.Context, fileID int64) (*storage.FileReference, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM project_files WHERE id = ?`, fileID)
	ref, err := scanFile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to get file reference %d", fileID), err)
	}
	return ref, nil
}

// GetFilesByQuery returns the project's files matching the query, ordered
// by creation time.
func (s *ProjectStore) GetFilesByQuery(
	ctx context.Context, projectID string, query storage.FileQuery,
) ([]*storage.FileReference, error) {
	conditions := []string{"project_id = ?"}
	params := []any{projectID}

	if query.FileType != "" {
		conditions = append(conditions, "file_type = ?")
		params = append(params, query.FileType)
	}
	if query.Category != "" {
		conditions = append(conditions, "file_category = ?")
		params = append(params, query.Category)
	}
	if query.IsTemporary != nil {
		conditions = append(conditions, "is_temporary = ?")
		params = append(params, *query.IsTemporary)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM project_files WHERE `+
			strings.Join(conditions, " AND ")+` ORDER BY created_at, id`,
		params...)
	if err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to query files for project %s", projectID), err)
	}
	defer rows.Close()

	var refs []*storage.FileReference
	for rows.Next() {
		ref, err := scanFile(rows.Scan)
		if err != nil {
			return nil, flowerrors.NewProjectDataAccessError(
				fmt.Sprintf("failed to query files for project %s", projectID), err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to query files for project %s", projectID), err)
	}
	return refs, nil
}

// UpdateFileMetadata merges updates into the stored metadata map, with
// update values winning on key conflict.
func (s *ProjectStore) UpdateFileMetadata(ctx context.Context, fileID int64, updates map[string]any) error {
	ref, err := s.GetFileReference(ctx, fileID)
	if err != nil {
		return err
	}

	merged := ref.Metadata
	if merged == nil {
		merged = map[string]any{}
	}
	if err := mergo.Merge(&merged, updates, mergo.WithOverride); err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update file metadata %d", fileID), err)
	}
	metadataJSON, err := encodeJSON(merged)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update file metadata %d", fileID), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update file metadata %d", fileID), err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE project_files SET metadata_json = ? WHERE id = ?`, metadataJSON, fileID)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update file metadata %d", fileID), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update file metadata %d", fileID), err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to update file metadata %d", fileID), err)
	}
	return nil
}

// DeleteFileReference removes the file registration.
func (s *ProjectStore) DeleteFileReference(ctx context.Context, fileID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to delete file reference %d", fileID), err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `DELETE FROM project_files WHERE id = ?`, fileID)
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to delete file reference %d", fileID), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to delete file reference %d", fileID), err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to delete file reference %d", fileID), err)
	}
	logger.Debugw("file reference deleted", "file_id", fileID)
	return nil
}

// GetProjectStatus returns the joint view of a project with its workflow
// steps ordered by step number and files ordered by creation time.
func (s *ProjectStore) GetProjectStatus(ctx context.Context, projectID string) (*storage.ProjectStatus, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	steps, err := s.GetWorkflowSteps(ctx, projectID)
	if err != nil {
		return nil, err
	}
	files, err := s.GetFilesByQuery(ctx, projectID, storage.FileQuery{})
	if err != nil {
		return nil, err
	}
	return &storage.ProjectStatus{
		Project:       project,
		WorkflowSteps: steps,
		Files:         files,
	}, nil
}

// SaveStatistics stores a statistics row for the project.
func (s *ProjectStore) SaveStatistics(ctx context.Context, stats *storage.ProjectStatistics) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to save statistics for project %s", stats.ProjectID), err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO project_statistics (
			project_id, total_duration, audio_duration, video_file_size,
			processing_time, api_calls_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stats.ProjectID, stats.TotalDuration, stats.AudioDuration, stats.VideoFileSize,
		stats.ProcessingTime, stats.APICallsCount, nowStamp(),
	)
	if err != nil {
		return 0, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to save statistics for project %s", stats.ProjectID), err)
	}
	statsID, err := res.LastInsertId()
	if err != nil {
		return 0, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to save statistics for project %s", stats.ProjectID), err)
	}

	if err := tx.Commit(); err != nil {
		return 0, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to save statistics for project %s", stats.ProjectID), err)
	}
	return statsID, nil
}

// GetStatistics returns the newest statistics row for the project.
func (s *ProjectStore) GetStatistics(ctx context.Context, projectID string) (*storage.ProjectStatistics, error) {
	var (
		stats     storage.ProjectStatistics
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, total_duration, audio_duration, video_file_size,
		       processing_time, api_calls_count, created_at
		FROM project_statistics WHERE project_id = ?
		ORDER BY id DESC LIMIT 1`,
		projectID,
	).Scan(&stats.ID, &stats.ProjectID, &stats.TotalDuration, &stats.AudioDuration,
		&stats.VideoFileSize, &stats.ProcessingTime, &stats.APICallsCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, flowerrors.NewProjectDataAccessError(
			fmt.Sprintf("failed to get statistics for project %s", projectID), err)
	}
	stats.CreatedAt = parseStamp(createdAt)
	return &stats, nil
}
