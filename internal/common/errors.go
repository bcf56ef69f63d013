package common

import (
	"errors"
	"fmt"

	"github.com/docvisionhq/docvision/constants"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error taxonomy. Only ErrBatchQuotaExceeded fails a whole request; every
// other kind is caught at the per-file boundary and degrades to a Failure
// outcome for that file alone.
var (
	ErrBatchQuotaExceeded = errors.New("batch quota exceeded")
	ErrFileQuotaExceeded  = errors.New("file quota exceeded")
	ErrValidation         = errors.New("validation failed")
	ErrNormalization      = errors.New("normalization failed")
	ErrCollaborator       = errors.New("collaborator call failed")
	ErrInvalidInput       = errors.New("invalid input")
)

// NewAppError creates an AppError with code, message and cause.
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// BatchQuotaError rejects an entire batch. Its message is the user-visible
// error returned with HTTP 400.
type BatchQuotaError struct {
	Limit int
}

func (e *BatchQuotaError) Error() string {
	return fmt.Sprintf(constants.MsgMaxFilesFmt, e.Limit)
}

func (e *BatchQuotaError) Unwrap() error {
	return ErrBatchQuotaExceeded
}

// FileQuotaError degrades a single file to a Failure outcome when its type's
// per-batch cap is exhausted. Format is constants.PDF or constants.IMAGE.
type FileQuotaError struct {
	Format string
	Limit  int
}

func (e *FileQuotaError) Error() string {
	if e.Format == constants.PDF {
		return fmt.Sprintf(constants.MsgMaxPDFsFmt, e.Limit)
	}
	return fmt.Sprintf(constants.MsgMaxImagesFmt, e.Limit)
}

func (e *FileQuotaError) Unwrap() error {
	return ErrFileQuotaExceeded
}
