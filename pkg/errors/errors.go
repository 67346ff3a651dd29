// Package errors provides the structured error taxonomy of hareadfs: error codes,
// categories, context, and the mapping between OS errno values and that taxonomy.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
	"time"
)

// ErrorCode represents a structured error code for hareadfs operations.
type ErrorCode string

const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Filesystem Errors
	ErrCodeMountFailed   ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed ErrorCode = "UNMOUNT_FAILED"
	ErrCodePathInvalid   ErrorCode = "PATH_INVALID"

	// Failover taxonomy
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeTimeout        ErrorCode = "OPERATION_TIMEOUT"
	ErrCodePermissionOrIO ErrorCode = "PERMISSION_OR_IO"
	ErrCodeReadOnly       ErrorCode = "READ_ONLY_VIOLATION"
	ErrCodeInterrupted    ErrorCode = "OPERATION_CANCELED"

	// State Management Errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"

	// Internal System Errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryFailover      ErrorCategory = "failover"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinel values for errors.Is comparisons. Matching is by code only, so
// errors.Is(err, ErrTimeout) holds for every timeout error regardless of context.
// Never call the With* builders on these.
var (
	ErrNotFound       = &FSError{Code: ErrCodeNotFound}
	ErrTimeout        = &FSError{Code: ErrCodeTimeout}
	ErrPermissionOrIO = &FSError{Code: ErrCodePermissionOrIO}
	ErrReadOnly       = &FSError{Code: ErrCodeReadOnly}
	ErrInterrupted    = &FSError{Code: ErrCodeInterrupted}
)

// FSError represents a structured error with context and metadata.
type FSError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Contextual information
	Operation string    `json:"operation,omitempty"`
	Path      string    `json:"path,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	// Errno is the OS error reported to the kernel for this error. Zero means
	// the default errno for Code is used.
	Errno syscall.Errno `json:"errno,omitempty"`
}

// Error implements the error interface.
func (e *FSError) Error() string {
	var b strings.Builder
	if e.Operation != "" {
		fmt.Fprintf(&b, "[%s] ", e.Operation)
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Path != "" {
		fmt.Fprintf(&b, " (path=%s", e.Path)
		if e.Backend != "" {
			fmt.Fprintf(&b, " backend=%s", e.Backend)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *FSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *FSError) Is(target error) bool {
	if fsErr, ok := target.(*FSError); ok {
		return e.Code == fsErr.Code
	}
	return false
}

// JSON returns the error as a JSON string.
func (e *FSError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with default values.
func NewError(code ErrorCode, message string) *FSError {
	return &FSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeMountFailed, ErrCodeUnmountFailed, ErrCodePathInvalid:
		return CategoryFilesystem
	case ErrCodeNotFound, ErrCodeTimeout, ErrCodePermissionOrIO, ErrCodeReadOnly, ErrCodeInterrupted:
		return CategoryFailover
	case ErrCodeAlreadyStarted, ErrCodeNotInitialized:
		return CategoryState
	default:
		return CategoryInternal
	}
}

// WithOperation sets the operation for an error
func (e *FSError) WithOperation(operation string) *FSError {
	e.Operation = operation
	return e
}

// WithPath sets the logical path for an error
func (e *FSError) WithPath(path string) *FSError {
	e.Path = path
	return e
}

// WithBackend sets the backend root that produced an error
func (e *FSError) WithBackend(backend string) *FSError {
	e.Backend = backend
	return e
}

// WithCause sets the underlying cause
func (e *FSError) WithCause(cause error) *FSError {
	e.Cause = cause
	return e
}

// WithErrno overrides the errno reported to the kernel
func (e *FSError) WithErrno(errno syscall.Errno) *FSError {
	e.Errno = errno
	return e
}

// NotFound builds a NotFound error for op on path.
func NotFound(op, path string) *FSError {
	return NewError(ErrCodeNotFound, "no backend has this path").
		WithOperation(op).WithPath(path).WithErrno(syscall.ENOENT)
}

// Timeout builds the error returned when every eligible backend was abandoned.
func Timeout(op, path string) *FSError {
	return NewError(ErrCodeTimeout, "every backend timed out or is blocked").
		WithOperation(op).WithPath(path).WithErrno(syscall.ETIMEDOUT)
}

// ReadOnly builds the error for any mutating operation.
func ReadOnly(op string) *FSError {
	return NewError(ErrCodeReadOnly, "read-only filesystem").
		WithOperation(op).WithErrno(syscall.EROFS)
}

// Interrupted builds the error for a request whose context ended while waiting.
func Interrupted(op, path string, cause error) *FSError {
	return NewError(ErrCodeInterrupted, "request interrupted").
		WithOperation(op).WithPath(path).WithCause(cause).WithErrno(syscall.EINTR)
}

// Classify maps an OS error returned by a backend into the failover taxonomy.
// ENOENT becomes NotFound; anything else becomes PermissionOrIO carrying the
// original errno when one is present.
func Classify(op, path, backend string, err error) *FSError {
	if err == nil {
		return nil
	}
	var fsErr *FSError
	if stderrors.As(err, &fsErr) {
		return fsErr
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		return NewError(ErrCodeNotFound, err.Error()).
			WithOperation(op).WithPath(path).WithBackend(backend).
			WithCause(err).WithErrno(syscall.ENOENT)
	}
	return NewError(ErrCodePermissionOrIO, err.Error()).
		WithOperation(op).WithPath(path).WithBackend(backend).
		WithCause(err).WithErrno(errnoOf(err))
}

// IsNotFound reports whether err is a NotFound error or an OS "does not exist" error.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound) || stderrors.Is(err, fs.ErrNotExist)
}

// IsTimeout reports whether err is a Timeout error.
func IsTimeout(err error) bool {
	return stderrors.Is(err, ErrTimeout)
}

// ToErrno converts any error into the errno handed back to the kernel.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var fsErr *FSError
	if stderrors.As(err, &fsErr) {
		if fsErr.Errno != 0 {
			return fsErr.Errno
		}
		switch fsErr.Code {
		case ErrCodeNotFound:
			return syscall.ENOENT
		case ErrCodeTimeout:
			return syscall.ETIMEDOUT
		case ErrCodeReadOnly:
			return syscall.EROFS
		case ErrCodeInterrupted:
			return syscall.EINTR
		}
		if fsErr.Cause != nil {
			return errnoOf(fsErr.Cause)
		}
		return syscall.EIO
	}
	return errnoOf(err)
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if stderrors.As(err, &errno) && errno != 0 {
		return errno
	}
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case stderrors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}
