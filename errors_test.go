package antnet

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("kcp.Send", CodeInvalidParam, "fragment count exceeds receive window")

	if err.Op != "kcp.Send" {
		t.Errorf("Expected Op=kcp.Send, got %s", err.Op)
	}
	if err.Code != CodeInvalidParam {
		t.Errorf("Expected Code=CodeInvalidParam, got %s", err.Code)
	}

	expected := "antnet: fragment count exceeds receive window (op=kcp.Send)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("tcp.Write", CodeNoWriteable, syscall.EPIPE)

	if err.Errno != syscall.EPIPE {
		t.Errorf("Expected Errno=EPIPE, got %v", err.Errno)
	}
	if err.Code != CodeNoWriteable {
		t.Errorf("Expected Code=CodeNoWriteable, got %s", err.Code)
	}
}

func TestComponentError(t *testing.T) {
	err := NewComponentError("kcp.Flush", "kcp-session#42", CodeClosing, "session dead_link exceeded")

	if err.Component != "kcp-session#42" {
		t.Errorf("Expected Component=kcp-session#42, got %s", err.Component)
	}

	expected := "antnet: session dead_link exceeded (op=kcp.Flush)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapError(t *testing.T) {
	inner := syscall.EAGAIN
	err := WrapError("reactor.Read", inner)

	if err.Code != CodeRetry {
		t.Errorf("Expected Code=CodeRetry, got %s", err.Code)
	}
	if err.Errno != syscall.EAGAIN {
		t.Errorf("Expected Errno=EAGAIN, got %v", err.Errno)
	}
	if !errors.Is(err, syscall.EAGAIN) {
		t.Error("Expected wrapped error to satisfy errors.Is for EAGAIN")
	}
}

func TestCodeAsSentinel(t *testing.T) {
	var err error = CodeRetry
	if !errors.Is(err, CodeRetry) {
		t.Error("bare Code should satisfy errors.Is against itself")
	}

	structuredErr := &Error{Code: CodeRetry}
	if !errors.Is(structuredErr, CodeRetry) {
		t.Error("structured error should be comparable against a bare Code sentinel")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("httpparser.Parse", CodeHeaderOverflow, "header section too large")

	if !IsCode(err, CodeHeaderOverflow) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, CodeError) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, CodeHeaderOverflow) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("udpio.Read", CodeError, syscall.EIO)

	if !IsErrno(err, syscall.EIO) {
		t.Error("IsErrno should return true for matching errno")
	}
	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}
	if IsErrno(nil, syscall.EIO) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected Code
	}{
		{syscall.EAGAIN, CodeRetry},
		{syscall.EINVAL, CodeInvalidParam},
		{syscall.EBADF, CodeNoOpen},
		{syscall.ENOTCONN, CodeNoOpen},
		{syscall.EPIPE, CodeNoOpen},
		{syscall.ETIMEDOUT, CodeRetry},
	}

	for _, tc := range testCases {
		code := mapErrnoToCode(tc.errno)
		if code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}
