package ionic

import (
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// Error is the structured error returned by every engine operation. Match it
// with errors.Is against the Err sentinels, or with IsCode.
type Error = errs.Error

// ErrorCode is a high-level error category.
type ErrorCode = errs.Code

const (
	CodeConfiguration   = errs.CodeConfiguration
	CodeInvalidArgument = errs.CodeInvalidArgument
	CodeTimeout         = errs.CodeTimeout
	CodeDeviceBusy      = errs.CodeDeviceBusy
	CodeDeviceRejected  = errs.CodeDeviceRejected
	CodeNoSpace         = errs.CodeNoSpace
	CodeFirmwareDown    = errs.CodeFirmwareDown
	CodeBadAddress      = errs.CodeBadAddress
	CodeIOError         = errs.CodeIOError
	CodeCanceled        = errs.CodeCanceled
	CodeQueueStopped    = errs.CodeQueueStopped
)

// Sentinel errors, one per code.
var (
	ErrConfiguration   = errs.ErrConfiguration
	ErrInvalidArgument = errs.ErrInvalidArgument
	ErrTimeout         = errs.ErrTimeout
	ErrDeviceBusy      = errs.ErrDeviceBusy
	ErrDeviceRejected  = errs.ErrDeviceRejected
	ErrNoSpace         = errs.ErrNoSpace
	ErrFirmwareDown    = errs.ErrFirmwareDown
	ErrBadAddress      = errs.ErrBadAddress
	ErrIOError         = errs.ErrIOError
	ErrCanceled        = errs.ErrCanceled
	ErrQueueStopped    = errs.ErrQueueStopped
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return errs.New(op, code, msg)
}

// NewQueueError creates a queue-scoped error
func NewQueueError(op, queue string, code ErrorCode, msg string) *Error {
	return errs.NewQueue(op, queue, code, msg)
}

// WrapError adds operation context to err, keeping the code of a structured
// error and classifying anything else as CodeIOError.
func WrapError(op string, inner error) *Error {
	return errs.Wrap(op, inner)
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	return errs.IsCode(err, code)
}

// StatusOf returns the device completion status carried by err.
func StatusOf(err error) (uapi.Status, bool) {
	return errs.StatusOf(err)
}

// IsRetryable reports whether the operation may succeed if repeated later.
func IsRetryable(err error) bool {
	return IsCode(err, CodeDeviceBusy) || IsCode(err, CodeTimeout) || IsCode(err, CodeNoSpace) ||
		IsCode(err, CodeQueueStopped)
}
