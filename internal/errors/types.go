package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind 错误类别，决定重试与传播策略
type ErrorKind string

const (
	// KindValidation 输入非法（调用方错误，不重试）
	KindValidation ErrorKind = "validation"
	// KindDimensionMismatch 向量维度与索引配置不一致
	KindDimensionMismatch ErrorKind = "dimension_mismatch"
	// KindDuplicateID 索引中已存在相同chunk_id
	KindDuplicateID ErrorKind = "duplicate_id"
	// KindEmbedding 嵌入服务调用失败（可重试）
	KindEmbedding ErrorKind = "embedding"
	// KindGeneration 生成服务调用失败（首token前可重试）
	KindGeneration ErrorKind = "generation"
	// KindNotFound 文档或分块不存在（不重试）
	KindNotFound ErrorKind = "not_found"
	// KindConsistency 文档存储与向量索引出现分歧
	KindConsistency ErrorKind = "consistency"
	// KindInternal 其他内部错误
	KindInternal ErrorKind = "internal"
)

// AppError 应用错误结构体
type AppError struct {
	Kind     ErrorKind   `json:"kind"`
	Message  string      `json:"message"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
	// Partial 生成中途失败时已经产出的部分文本
	Partial string `json:"partial,omitempty"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithPartial 附带已产出的部分文本
func (e *AppError) WithPartial(partial string) *AppError {
	e.Partial = partial
	return e
}

// Retryable 是否可以在本地有界重试
func (e *AppError) Retryable() bool {
	return e.Kind == KindEmbedding || e.Kind == KindGeneration
}

// 错误构造函数

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Kind:     KindValidation,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewDimensionMismatchError 创建维度不匹配错误
func NewDimensionMismatchError(want, got int) *AppError {
	return &AppError{
		Kind:     KindDimensionMismatch,
		Message:  fmt.Sprintf("vector dimension mismatch: index expects %d, got %d", want, got),
		HTTPCode: http.StatusUnprocessableEntity,
	}
}

// NewDuplicateIDError 创建重复ID错误
func NewDuplicateIDError(id string) *AppError {
	return &AppError{
		Kind:     KindDuplicateID,
		Message:  fmt.Sprintf("chunk %q already indexed", id),
		HTTPCode: http.StatusConflict,
	}
}

// NewEmbeddingError 创建嵌入服务错误
func NewEmbeddingError(message string) *AppError {
	return &AppError{
		Kind:     KindEmbedding,
		Message:  message,
		HTTPCode: http.StatusBadGateway,
	}
}

// NewGenerationError 创建生成服务错误
func NewGenerationError(message string) *AppError {
	return &AppError{
		Kind:     KindGeneration,
		Message:  message,
		HTTPCode: http.StatusBadGateway,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		HTTPCode: http.StatusNotFound,
	}
}

// NewConsistencyError 创建一致性错误
func NewConsistencyError(message string) *AppError {
	return &AppError{
		Kind:     KindConsistency,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{
		Kind:     KindInternal,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
	}
}

// IsKind 判断错误（含包装链）是否属于某个类别
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// GetAppError 获取AppError，如果不是则包装为内部错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("internal server error").WithCause(err)
}
