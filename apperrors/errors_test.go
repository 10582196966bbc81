package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error_WithCause(t *testing.T) {
	cause := errors.New("connection refused")
	appErr := NewAppError(ErrNetworkFailure, "failed to write alarm log", cause)

	assert.Equal(t, "NETWORK.FAILURE: failed to write alarm log (connection refused)", appErr.Error())
}

func TestAppError_Error_WithoutCause(t *testing.T) {
	appErr := Errorf(ErrNotFound, "alarm %s not found", "a1")

	assert.Equal(t, "BACKEND.NOT_FOUND: alarm a1 not found", appErr.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("quota")
	appErr := NewAppError(ErrQuotaExceeded, "too many pending triggers", cause)

	require.ErrorIs(t, appErr, cause)
}

func TestAppError_ErrorsIsByCode(t *testing.T) {
	err := fmt.Errorf("sync: %w", Errorf(ErrPermissionDenied, "notifications disabled"))

	assert.ErrorIs(t, err, Code(ErrPermissionDenied))
	assert.NotErrorIs(t, err, Code(ErrScheduleFailed))
}

func TestIs_NestedCodes(t *testing.T) {
	inner := Errorf(ErrQuotaExceeded, "500 pending")
	outer := NewAppError(ErrScheduleFailed, "schedule a1", inner)

	assert.True(t, Is(outer, ErrScheduleFailed))
	assert.True(t, Is(outer, ErrQuotaExceeded))
	assert.False(t, Is(outer, ErrNotFound))
	assert.False(t, Is(errors.New("plain"), ErrNotFound))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrAlarmInvalid, CodeOf(fmt.Errorf("wrap: %w", Errorf(ErrAlarmInvalid, "bad"))))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}
