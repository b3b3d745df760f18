package apperrors_test

import (
	"errors"
	"fmt"
	"net/http"
	"sanctuary/backend/internal/apperrors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.Kind
	}{
		{"nil", nil, ""},
		{"validation", apperrors.Validation("bad", nil), apperrors.KindValidation},
		{"wrapped conflict", fmt.Errorf("create: %w", apperrors.Conflict("dup", nil)), apperrors.KindConflict},
		{"foreign", errors.New("boom"), apperrors.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperrors.KindOf(tt.err))
		})
	}
}

func TestFromStore(t *testing.T) {
	err := apperrors.FromStore(gorm.ErrRecordNotFound, "session", map[string]any{"session_id": "s1"})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	assert.Equal(t, "session not found", err.Error())

	err = apperrors.FromStore(gorm.ErrDuplicatedKey, "session", nil)
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))

	original := apperrors.Unavailable("counselor suspended", nil)
	assert.Same(t, original, apperrors.FromStore(original, "counselor", nil))

	assert.Nil(t, apperrors.FromStore(nil, "x", nil))
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.3:5432: connection refused")
	appErr := apperrors.As(apperrors.Internal(cause))

	assert.Equal(t, "internal error", appErr.Message)
	assert.ErrorIs(t, appErr, cause)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(apperrors.KindValidation))
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(apperrors.KindNotFound))
	assert.Equal(t, http.StatusForbidden, apperrors.HTTPStatus(apperrors.KindAuthorization))
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(apperrors.KindConflict))
	assert.Equal(t, http.StatusUnprocessableEntity, apperrors.HTTPStatus(apperrors.KindUnavailable))
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(apperrors.KindInternal))
}
