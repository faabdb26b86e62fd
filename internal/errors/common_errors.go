package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeFormat      ErrorType = "FORMAT"
	ErrTypeValidation  ErrorType = "VALIDATION"
	ErrTypeNotFound    ErrorType = "NOT_FOUND"
	ErrTypePersistence ErrorType = "PERSISTENCE"
	ErrTypeBatchFatal  ErrorType = "BATCH_FATAL"
	ErrTypeConflict    ErrorType = "CONFLICT"
	ErrTypeStorage     ErrorType = "STORAGE"
	ErrTypeConfig      ErrorType = "CONFIG"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError of the same type, so sentinel comparisons such as
// errors.Is(err, &AppError{Type: ErrTypeNotFound}) work through wrapping.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewFormatError reports a file that violates the minimum structural assumptions.
// It is fatal to that file only.
func NewFormatError(file, message string) *AppError {
	return NewAppError(ErrTypeFormat, message, nil).WithContext("file", file)
}

// NewValidationError reports an assembled record that fails field constraints.
func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeValidation, message, cause)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource, id string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s %s not found", resource, id), nil).
		WithContext("resource", resource).
		WithContext("id", id)
}

// NewPersistenceError reports a snapshot or upsert failure for one record.
func NewPersistenceError(message string, cause error) *AppError {
	return NewAppError(ErrTypePersistence, message, cause)
}

// NewBatchFatalError reports a failure outside per-file and per-record handling.
func NewBatchFatalError(message string, cause error) *AppError {
	return NewAppError(ErrTypeBatchFatal, message, cause)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrTypeConflict, message, nil)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsFormat reports whether err is a FormatError
func IsFormat(err error) bool { return TypeOf(err) == ErrTypeFormat }

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool { return TypeOf(err) == ErrTypeValidation }

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool { return TypeOf(err) == ErrTypeNotFound }

// IsPersistence reports whether err is a PersistenceError
func IsPersistence(err error) bool { return TypeOf(err) == ErrTypePersistence }

// IsBatchFatal reports whether err is a BatchFatalError
func IsBatchFatal(err error) bool { return TypeOf(err) == ErrTypeBatchFatal }
