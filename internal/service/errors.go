package service

import (
	"errors"
	"fmt"
)

// 服务层错误类型，可以用 errors.Is 与 Service 返回的 *Error 匹配。
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrExpired        = errors.New("expired")
	ErrConflict       = errors.New("conflict")
	ErrForbidden      = errors.New("forbidden")
	ErrInternalServer = errors.New("internal server error")
)

var kindNames = map[error]string{
	ErrValidation:     "validation",
	ErrNotFound:       "not_found",
	ErrExpired:        "expired",
	ErrConflict:       "conflict",
	ErrForbidden:      "forbidden",
	ErrInternalServer: "internal",
}

// Error 是分类后的服务层错误，Message 可以直接返回给客户端。
type Error struct {
	Kind    error
	Message string

	// 名称冲突时标识已存在的会话
	SessionID   string
	SessionCode string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// KindName returns the stable machine-readable kind of the error.
func (e *Error) KindName() string {
	if name, ok := kindNames[e.Kind]; ok {
		return name
	}
	return kindNames[ErrInternalServer]
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// internalError hides the cause; callers log it before returning.
func internalError(message string) *Error {
	return newError(ErrInternalServer, message)
}

// AsError 把任意错误转换为 *Error，无法识别的视为内部错误。
func AsError(err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return internalError("internal server error")
}
