package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestError_IsMatchesSentinelOfSameKind(t *testing.T) {
	testCases := []struct {
		err      error
		sentinel error
	}{
		{InvalidInput("fetch", "x", "bad"), ErrInvalidInput},
		{NotFound("fetch", "x", nil), ErrNotFound},
		{RateLimited("fetch", "x", time.Minute, nil), ErrRateLimited},
		{Transient("fetch", "x", context.DeadlineExceeded), ErrTransient},
		{Storage("append", "x", errors.New("disk")), ErrStorage},
	}
	for _, tc := range testCases {
		if !errors.Is(tc.err, tc.sentinel) {
			t.Errorf("errors.Is(%v, %v) = false, want true", tc.err, tc.sentinel)
		}
		if errors.Is(tc.err, ErrInvalidInput) && tc.sentinel != ErrInvalidInput {
			t.Errorf("%v should not match ErrInvalidInput", tc.err)
		}
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("refresh: %w", RateLimited("fetch", "alice", 0, nil))
	if got := KindOf(err); got != KindRateLimited {
		t.Errorf("KindOf = %q, want %q", got, KindRateLimited)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %q, want unknown", got)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %q, want unknown", got)
	}
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	err := Transient("fetch", "bob", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("Transient should unwrap to its cause")
	}
	if err.Error() != "fetch: transient (bob): context deadline exceeded" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Transient("fetch", "a", nil)) {
		t.Error("transient should be retryable")
	}
	for _, err := range []error{
		RateLimited("fetch", "a", 0, nil),
		NotFound("fetch", "a", nil),
		InvalidInput("fetch", "a", "bad"),
		Storage("append", "a", nil),
	} {
		if Retryable(err) {
			t.Errorf("%v should not be retryable", err)
		}
	}
}
