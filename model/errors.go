package model

import "fmt"

type ErrorCode string

const (
	ErrLabelerNotConfigured ErrorCode = "LabelerNotConfigured"
	ErrBadRequest           ErrorCode = "BadRequest"
	ErrNotFound             ErrorCode = "NotFound"
	ErrRateLimited          ErrorCode = "RateLimited"
	ErrSigning              ErrorCode = "SigningError"
	ErrStorage              ErrorCode = "StorageError"
	ErrInternal             ErrorCode = "InternalError"
)

// CodedError is a stable error with a machine-readable code and a human message.
type CodedError struct {
	Code    ErrorCode `json:"error"`
	Message string    `json:"message"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}
