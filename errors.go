package odbxuv

import (
	"errors"
	"fmt"
)

// usage errors, raised synchronously back into the calling script
var (
	ErrNotConnected    = errors.New("odbxuv: not connected")
	ErrAlreadyClosing  = errors.New("odbxuv: handle is already closing")
	ErrAlreadyClosed   = errors.New("odbxuv: handle is already closed")
	ErrUnknownEvent    = errors.New("odbxuv: unknown event")
	ErrNotCallable     = errors.New("odbxuv: callback is not callable")
	ErrFetchInProgress = errors.New("odbxuv: fetch already in progress")
	ErrNotHandle       = errors.New("odbxuv: value is not a handle")
	ErrWrongKind       = errors.New("odbxuv: wrong handle kind")
)

// ErrorCode mirrors the ODBX_ERR_* values of the native library.
// Native functions report them negated.
type ErrorCode int32

const (
	ODBX_ERR_SUCCESS  ErrorCode = 0
	ODBX_ERR_BACKEND  ErrorCode = 1
	ODBX_ERR_NOCAP    ErrorCode = 2
	ODBX_ERR_PARAM    ErrorCode = 3
	ODBX_ERR_NOMEM    ErrorCode = 4
	ODBX_ERR_SIZE     ErrorCode = 5
	ODBX_ERR_NOTEXIST ErrorCode = 6
	ODBX_ERR_NOOP     ErrorCode = 7
	ODBX_ERR_OPTION   ErrorCode = 8
	ODBX_ERR_OPTRO    ErrorCode = 9
	ODBX_ERR_OPTWR    ErrorCode = 10
	ODBX_ERR_RESULT   ErrorCode = 11
	ODBX_ERR_NOTSUP   ErrorCode = 12
	ODBX_ERR_HANDLE   ErrorCode = 13
)

// CodeName maps a native status code (negative, or the positive ErrorCode)
// to its symbolic name. Every code has exactly one name; unknown codes are
// reported as ok == false.
func CodeName(code int) (name string, ok bool) {
	if code < 0 {
		code = -code
	}
	switch ErrorCode(code) {
	case ODBX_ERR_SUCCESS:
		return "SUCCESS", true
	case ODBX_ERR_BACKEND:
		return "BACKEND", true
	case ODBX_ERR_NOCAP:
		return "NOCAP", true
	case ODBX_ERR_PARAM:
		return "PARAM", true
	case ODBX_ERR_NOMEM:
		return "NOMEM", true
	case ODBX_ERR_SIZE:
		return "SIZE", true
	case ODBX_ERR_NOTEXIST:
		return "NOTEXISTS", true
	case ODBX_ERR_NOOP:
		return "NOOP", true
	case ODBX_ERR_OPTION:
		return "OPTION", true
	case ODBX_ERR_OPTRO:
		return "OPTRO", true
	case ODBX_ERR_OPTWR:
		return "OPTWR", true
	case ODBX_ERR_RESULT:
		return "RESULT", true
	case ODBX_ERR_NOTSUP:
		return "NOTSUP", true
	case ODBX_ERR_HANDLE:
		return "HANDLE", true
	default:
		return "", false
	}
}

// NativeError is the error attached to a failed driver request.
type NativeError struct {
	// Code is the negative native status code.
	Code int
	// Type is the native error category: negative values are fatal for
	// the connection, positive ones are recoverable.
	Type    int
	Message string
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("odbxuv: native error %d: %s", e.Code, e.Message)
}

// nativeErrorf builds a NativeError for a code from the ErrorCode table.
func nativeErrorf(code ErrorCode, typ int, format string, args ...any) *NativeError {
	return &NativeError{Code: -int(code), Type: typ, Message: fmt.Sprintf(format, args...)}
}

// AsyncError is the structured error delivered with an "error" event.
type AsyncError struct {
	Message string
	// Code is either a symbolic name (string) or the raw numeric code (int).
	Code   any
	Type   int
	Source string
	Path   string
}

func (e *AsyncError) Error() string {
	return e.Message
}

// NewAsyncError converts a native error reported by the driver for the
// completion named by source. path is optional and appended to the message.
func NewAsyncError(nerr *NativeError, source, path string) *AsyncError {
	if nerr == nil {
		nerr = nativeErrorf(ODBX_ERR_BACKEND, -1, "unknown error")
	}
	msg := fmt.Sprintf("%d, %s", nerr.Code, nerr.Message)
	if path != "" {
		msg += fmt.Sprintf(" '%s'", path)
	}
	var code any = nerr.Code
	if name, ok := CodeName(nerr.Code); ok {
		code = name
	}
	return &AsyncError{
		Message: msg,
		Code:    code,
		Type:    nerr.Type,
		Source:  source,
		Path:    path,
	}
}

// UsageError is returned synchronously for invalid calls from scripts.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *UsageError) Unwrap() error { return e.Err }

func usageError(op string, err error) error {
	return &UsageError{Op: op, Err: err}
}

// enqueueError reports a request the driver refused to accept.
func enqueueError(op string, err error) error {
	var nerr *NativeError
	if errors.As(err, &nerr) {
		return &UsageError{Op: op, Err: fmt.Errorf("odbxuv_%s: %d: %w", op, nerr.Code, err)}
	}
	return &UsageError{Op: op, Err: fmt.Errorf("odbxuv_%s: %w", op, err)}
}

// InvariantError reports a broken bridge invariant. It is always raised
// with panic and never recovered by the loop.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "odbxuv: invariant violated: " + e.Msg
}

func invariant(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}
