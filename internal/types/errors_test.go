package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestReviewErrorKind(t *testing.T) {
	base := errors.New("boom")
	err := NewError(KindCheckpointDecode, base)

	if got := KindOf(err); got != KindCheckpointDecode {
		t.Errorf("KindOf = %v, want %v", got, KindCheckpointDecode)
	}
	if !IsKind(err, KindCheckpointDecode) {
		t.Error("IsKind(checkpoint_decode) = false, want true")
	}
	if IsKind(err, KindNetwork) {
		t.Error("IsKind(network) = true, want false")
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error not reachable via errors.Is")
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", Errorf(KindRateLimited, "remaining=%d", 3))
	if got := KindOf(err); got != KindRateLimited {
		t.Errorf("KindOf through wrap = %v, want %v", got, KindRateLimited)
	}
}

func TestKindOfPlain(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindFatal {
		t.Errorf("KindOf(plain) = %v, want %v", got, KindFatal)
	}
}

func TestRetryableError(t *testing.T) {
	base := errors.New("timeout")
	err := NewRetryableError(base)

	if !IsRetryable(err) {
		t.Error("IsRetryable = false, want true")
	}
	if IsRetryable(base) {
		t.Error("IsRetryable(base) = true, want false")
	}
	if !errors.Is(err, base) {
		t.Error("Unwrap chain broken")
	}
}
