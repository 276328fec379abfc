// Package errs defines the structured error shared by every engine layer.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// Code is a high-level error category.
type Code string

const (
	CodeConfiguration   Code = "configuration error"
	CodeInvalidArgument Code = "invalid argument"
	CodeTimeout         Code = "timeout"
	CodeDeviceBusy      Code = "device busy"
	CodeDeviceRejected  Code = "device rejected command"
	CodeNoSpace         Code = "no space in ring"
	CodeFirmwareDown    Code = "firmware not running"
	CodeBadAddress      Code = "bad address"
	CodeIOError         Code = "I/O error"
	CodeCanceled        Code = "canceled"
	CodeQueueStopped    Code = "queue not running"
)

// Error is a structured engine error with the failing operation, queue and,
// for device failures, the opcode and completion status.
type Error struct {
	Op     string      // Operation that failed (e.g. "post_wait", "Q_INIT")
	Queue  string      // Queue name ("" if not applicable)
	Code   Code        // High-level error category
	Opcode uapi.Opcode // Command opcode when a command failed
	Status uapi.Status // Completion status (0 if not applicable)
	Msg    string      // Human-readable message
	Inner  error       // Wrapped error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Queue != "" {
		parts = append(parts, "queue="+e.Queue)
	}
	if e.Opcode != uapi.OpNop {
		parts = append(parts, "opcode="+e.Opcode.String())
	}
	if e.Status != uapi.StatusSuccess {
		parts = append(parts, "status="+e.Status.String())
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Inner != nil && e.Msg == "" {
		msg = fmt.Sprintf("%s: %v", msg, e.Inner)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("ionic: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return "ionic: " + msg
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches another *Error with the same code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	return ok && te != nil && e.Code == te.Code
}

// Sentinels for errors.Is.
var (
	ErrConfiguration   = &Error{Code: CodeConfiguration}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
	ErrTimeout         = &Error{Code: CodeTimeout}
	ErrDeviceBusy      = &Error{Code: CodeDeviceBusy}
	ErrDeviceRejected  = &Error{Code: CodeDeviceRejected}
	ErrNoSpace         = &Error{Code: CodeNoSpace}
	ErrFirmwareDown    = &Error{Code: CodeFirmwareDown}
	ErrBadAddress      = &Error{Code: CodeBadAddress}
	ErrIOError         = &Error{Code: CodeIOError}
	ErrCanceled        = &Error{Code: CodeCanceled}
	ErrQueueStopped    = &Error{Code: CodeQueueStopped}
)

// New creates an error with a message.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Newf creates an error with a formatted message.
func Newf(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NewQueue creates a queue-scoped error.
func NewQueue(op, queue string, code Code, msg string) *Error {
	return &Error{Op: op, Queue: queue, Code: code, Msg: msg}
}

// FromStatus maps a nonzero completion status to an error. EAGAIN maps to
// CodeDeviceBusy; BAD_ADDR and EFAULT to CodeBadAddress; anything else is a rejection.
func FromStatus(op string, opcode uapi.Opcode, status uapi.Status) *Error {
	if status == uapi.StatusSuccess {
		return nil
	}
	code := CodeDeviceRejected
	switch status {
	case uapi.StatusEAgain:
		code = CodeDeviceBusy
	case uapi.StatusBadAddr, uapi.StatusEFault:
		code = CodeBadAddress
	}
	return &Error{Op: op, Code: code, Opcode: opcode, Status: status}
}

// Wrap adds operation context to err. A structured error keeps its code; any
// other error becomes CodeIOError.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var e *Error
	if errors.As(inner, &e) {
		out := *e
		out.Op = op
		return &out
	}
	return &Error{Op: op, Code: CodeIOError, Inner: inner}
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// StatusOf returns the completion status carried by err, if any.
func StatusOf(err error) (uapi.Status, bool) {
	var e *Error
	if errors.As(err, &e) && e.Status != uapi.StatusSuccess {
		return e.Status, true
	}
	return 0, false
}
