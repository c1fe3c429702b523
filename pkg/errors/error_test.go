package errors

import (
	stderrors "errors"
	"io/fs"
	"testing"
)

func TestWrapPreservesUnderlyingError(t *testing.T) {
	base := fs.ErrNotExist
	wrapped := Wrapf(base, CGroupError, "create cgroup failed")

	if !stderrors.Is(wrapped, fs.ErrNotExist) {
		t.Fatal("wrapped error lost its cause")
	}
	if GetCode(wrapped) != CGroupError {
		t.Fatalf("code = %v, want CGroupError", GetCode(wrapped))
	}
	if wrapped.Error() != "create cgroup failed" {
		t.Fatalf("message = %q", wrapped.Error())
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, DatabaseError) != nil {
		t.Fatal("Wrap(nil) != nil")
	}
	if Wrapf(nil, DatabaseError, "x") != nil {
		t.Fatal("Wrapf(nil) != nil")
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := New(LockFailed)
	if !Is(err, LockFailed) {
		t.Fatal("Is missed matching code")
	}
	if Is(err, CacheError) {
		t.Fatal("Is matched wrong code")
	}
	if Is(stderrors.New("plain"), LockFailed) {
		t.Fatal("Is matched a plain error")
	}
}

func TestValidationErrorNamesField(t *testing.T) {
	err := ValidationError("pid", "invalid")
	if GetCode(err) != ValidationFailed {
		t.Fatalf("code = %v", GetCode(err))
	}
	if err.Error() != "validation failed: pid invalid" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestDefaultMessageFromCode(t *testing.T) {
	err := New(CGroupNameBusy)
	if err.Error() != CGroupNameBusy.Message() {
		t.Fatalf("message = %q", err.Error())
	}
	if ErrorCode(99999).Message() != "Unknown error" {
		t.Fatalf("unknown code message = %q", ErrorCode(99999).Message())
	}
}
