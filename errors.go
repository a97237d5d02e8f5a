// Package antnet is a single-process networking runtime: a reactor-style
// event loop, a TLS duplex handle, a reliable transport over UDP modeled
// on KCP, and an HTTP/1.x station pipeline, all built on pool-allocated
// request descriptors and block-linked ring buffers.
package antnet

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is the high-level error taxonomy shared by every component:
// the reactor, the TLS handle, the HTTP parser/station pipeline and the
// reliable-UDP engine all report through this set.
type Code string

const (
	CodeOK             Code = "OK"
	CodeRetry          Code = "RETRY"
	CodeClosing        Code = "CLOSING"
	CodeError          Code = "ERROR"
	CodeInvalidParam   Code = "INVALID_PARAM"
	CodeNoReadable     Code = "NO_READABLE"
	CodeNoWriteable    Code = "NO_WRITEABLE"
	CodeNoOpen         Code = "NO_OPEN"
	CodeHeaderOverflow Code = "HEADER_OVERFLOW"
	CodeBadMethod      Code = "BAD_METHOD"
	CodeBadURL         Code = "BAD_URL"
	CodeBadVersion     Code = "BAD_VERSION"
	CodeBadStatus      Code = "BAD_STATUS"
	CodeBadHeaderToken Code = "BAD_HEADER_TOKEN"
	CodeBadContentLen  Code = "BAD_CONTENT_LENGTH"
	CodeUnexpectedCL   Code = "UNEXPECTED_CONTENT_LENGTH"
	CodeBadChunkSize   Code = "BAD_CHUNK_SIZE"
	CodeStrictViolate  Code = "STRICT_VIOLATION"
	CodePaused         Code = "PAUSED"
	CodeClosedConn     Code = "CLOSED_CONNECTION"
	CodeCallbackError  Code = "CALLBACK_ERROR"
)

// Error is a structured error carrying the operation, the owning
// component, the taxonomy code, and an optional wrapped errno/cause.
type Error struct {
	Op        string // operation that failed, e.g. "kcp.Send", "tls.Handshake"
	Component string // handle kind + id, e.g. "tcp#4", "kcp-session#17"
	Code      Code
	Errno     syscall.Errno
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("antnet: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("antnet: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison against a bare Code or another *Error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if c, ok := target.(Code); ok {
		return e.Code == c
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Error lets a bare Code value satisfy the error interface, so sentinel
// comparisons like errors.Is(err, antnet.CodeRetry) work without an
// intermediate *Error allocation on the caller's part.
func (c Code) Error() string {
	return string(c)
}

// NewError builds a structured error for a given operation and code.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno builds a structured error carrying the originating
// kernel errno.
func NewErrorWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewComponentError builds a structured error scoped to a named
// component (a handle, session, or station).
func NewComponentError(op, component string, code Code, msg string) *Error {
	return &Error{Op: op, Component: component, Code: code, Msg: msg}
}

// WrapError wraps inner with antnet context, preserving its Code if it
// is already a structured *Error, otherwise mapping common syscall
// errors onto the taxonomy.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ae, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			Component: ae.Component,
			Code:      ae.Code,
			Errno:     ae.Errno,
			Msg:       ae.Msg,
			Inner:     ae.Inner,
		}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: CodeError, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.EAGAIN:
		return CodeRetry
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidParam
	case syscall.EBADF, syscall.ENOTCONN, syscall.EPIPE:
		return CodeNoOpen
	case syscall.ETIMEDOUT:
		return CodeRetry
	default:
		return CodeError
	}
}

// IsCode reports whether err (or a wrapped cause) carries the given
// taxonomy code.
func IsCode(err error, code Code) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return errors.Is(err, code)
}

// IsErrno reports whether err (or a wrapped cause) carries the given
// kernel errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Errno == errno
	}
	return false
}
