package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesCodeAndCause(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("disk full")
	err := NewFileSystemError("failed to create file", cause)

	assert.Contains(t, err.Error(), "FILE_SYSTEM_ERROR")
	assert.Contains(t, err.Error(), "failed to create file")
	assert.Contains(t, err.Error(), "disk full")
	assert.ErrorIs(t, err, cause)
}

func TestCircularDependencyErrorIsFatal(t *testing.T) {
	t.Parallel()

	err := NewCircularDependencyError([]string{"a", "b", "a"}, nil)

	assert.False(t, err.Recoverable)
	assert.Equal(t, SeverityCritical, err.Severity)
	assert.Equal(t, []string{"a", "b", "a"}, err.DependencyChain)
	assert.Equal(t, CategoryDependency, err.Category)
	assert.True(t, IsCircularDependency(err))
	assert.False(t, IsRecoverable(err))
}

func TestConfigurationErrorIsFatal(t *testing.T) {
	t.Parallel()

	err := NewConfigurationError("max_concurrent_steps", "must be >= 1", "int")

	assert.False(t, err.Recoverable)
	assert.Equal(t, "max_concurrent_steps", err.ConfigKey)
	assert.True(t, IsConfiguration(err))
	assert.False(t, IsRecoverable(err))
}

func TestStepExecutionErrorCarriesContext(t *testing.T) {
	t.Parallel()

	ctx := ErrorContext("proj-1", "tts_generation", "exec-42", map[string]any{"phase": 2})
	err := NewStepExecutionError("tts_generation", "synthesis failed", stderrors.New("boom"), ctx)

	assert.Equal(t, "tts_generation", err.StepName)
	assert.Equal(t, "proj-1", err.Context["project_id"])
	assert.Equal(t, "exec-42", err.Context["execution_id"])
	assert.Equal(t, 2, err.Context["phase"])
	assert.True(t, IsStepExecution(err))
}

func TestErrorContextOmitsEmptyIdentifiers(t *testing.T) {
	t.Parallel()

	ctx := ErrorContext("proj-1", "", "", nil)

	assert.Equal(t, map[string]any{"project_id": "proj-1"}, ctx)
}

func TestSubtypesUnwrapToTaggedError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code string
	}{
		{"dependency", NewDependencyError("missing deps", []string{"a"}, nil), "DEPENDENCY_NOT_SATISFIED"},
		{"resource", NewResourceLimitError("gpu", "2", "1", nil), "RESOURCE_LIMIT_EXCEEDED"},
		{"validation", NewValidationError("step_id", 0, "must be positive", nil), "VALIDATION_FAILED"},
		{"timeout", NewTimeoutError("execute", 300, 312.5, nil), "OPERATION_TIMEOUT"},
		{"external", NewExternalAPIError("gemini", "rate limited", 429, "RATE_LIMIT", nil), "EXTERNAL_API_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var tagged *Error
			require.ErrorAs(t, tc.err, &tagged)
			assert.Equal(t, tc.code, tagged.Code)
		})
	}
}

func TestToMapIsJSONFriendly(t *testing.T) {
	t.Parallel()

	err := NewResourceUnavailableError("video_encoder", ErrorContext("p", "s", "", nil))
	m := err.ToMap()

	assert.Equal(t, "RESOURCE_UNAVAILABLE", m["error_code"])
	assert.Equal(t, "resource", m["category"])
	assert.Equal(t, true, m["recoverable"])
	assert.NotEmpty(t, m["timestamp"])
}

func TestIsRecoverableUnknownErrors(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRecoverable(stderrors.New("transient glitch")))
	assert.True(t, IsRecoverable(fmt.Errorf("wrapped: %w", stderrors.New("x"))))
	assert.True(t, IsRecoverable(nil))
}

func TestSuggestedActionsDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []RecoveryAction{ActionFallback, ActionManualIntervention},
		SuggestedActions(fmt.Errorf("open: %w", fs.ErrNotExist)))
	assert.Equal(t, []RecoveryAction{ActionManualIntervention},
		SuggestedActions(fmt.Errorf("open: %w", fs.ErrPermission)))
	assert.Equal(t, []RecoveryAction{ActionRetry, ActionManualIntervention},
		SuggestedActions(stderrors.New("mystery")))
	assert.Equal(t, []RecoveryAction{ActionRetry, ActionAbort},
		SuggestedActions(NewTimeoutError("op", 1, 2, nil)))
}

func TestIsCategory(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", NewProjectDataAccessError("failed to create project", nil))
	assert.True(t, IsCategory(err, CategoryIO))
	assert.False(t, IsCategory(err, CategoryNetwork))
}
