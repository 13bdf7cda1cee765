package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_KindsAndHTTPCodes(t *testing.T) {
	tests := []struct {
		err      *AppError
		kind     ErrorKind
		httpCode int
	}{
		{NewValidationError("bad input"), KindValidation, http.StatusBadRequest},
		{NewDimensionMismatchError(3, 2), KindDimensionMismatch, http.StatusUnprocessableEntity},
		{NewDuplicateIDError("c1"), KindDuplicateID, http.StatusConflict},
		{NewEmbeddingError("down"), KindEmbedding, http.StatusBadGateway},
		{NewGenerationError("down"), KindGeneration, http.StatusBadGateway},
		{NewNotFoundError("document"), KindNotFound, http.StatusNotFound},
		{NewConsistencyError("divergent"), KindConsistency, http.StatusInternalServerError},
		{NewInternalError("oops"), KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, tt.err.Kind)
		assert.Equal(t, tt.httpCode, tt.err.HTTPCode)
		assert.True(t, IsKind(tt.err, tt.kind))
	}
}

func TestAppError_Retryable(t *testing.T) {
	// 只有嵌入与生成失败可以本地重试
	assert.True(t, NewEmbeddingError("x").Retryable())
	assert.True(t, NewGenerationError("x").Retryable())
	assert.False(t, NewValidationError("x").Retryable())
	assert.False(t, NewDuplicateIDError("x").Retryable())
	assert.False(t, NewNotFoundError("x").Retryable())
	assert.False(t, NewConsistencyError("x").Retryable())
}

func TestAppError_WrappingChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewEmbeddingError("embedding request failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")

	// 包装一层后仍可识别类别
	wrapped := fmt.Errorf("ingest document: %w", err)
	assert.True(t, IsKind(wrapped, KindEmbedding))

	appErr := GetAppError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, KindEmbedding, appErr.Kind)
}

func TestAppError_Partial(t *testing.T) {
	err := NewGenerationError("interrupted").WithPartial("partial answer")
	assert.Equal(t, "partial answer", err.Partial)
	assert.Equal(t, "partial answer", GetAppError(err).Partial)
}

func TestGetAppError_UnknownError(t *testing.T) {
	plain := errors.New("plain failure")
	appErr := GetAppError(plain)
	require.NotNil(t, appErr)
	assert.Equal(t, KindInternal, appErr.Kind)
	assert.ErrorIs(t, appErr, plain)
}

func TestIsKind_NonAppError(t *testing.T) {
	assert.False(t, IsKind(errors.New("plain"), KindValidation))
	assert.False(t, IsKind(nil, KindValidation))
}
