package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Wrapped(t *testing.T) {
	base := New(KindConflict, "commission.duplicate_type", errors.New("commission: duplicate"))
	wrapped := fmt.Errorf("upsert: %w", base)

	if got := KindOf(wrapped); got != KindConflict {
		t.Fatalf("expected %s, got %s", KindConflict, got)
	}
	if got := CodeOf(wrapped); got != "commission.duplicate_type" {
		t.Fatalf("expected code commission.duplicate_type, got %s", got)
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("expected errors.Is to match the sentinel")
	}
}

func TestKindOf_PlainError(t *testing.T) {
	err := errors.New("boom")
	if got := KindOf(err); got != KindInternal {
		t.Fatalf("expected internal, got %s", got)
	}
	if got := CodeOf(err); got != "common.internal_error" {
		t.Fatalf("unexpected code %s", got)
	}
}

func TestValidation(t *testing.T) {
	err := Validation("contract.fee_negative", "contract: fee must be >= 0")
	if !Is(err, KindValidation) {
		t.Fatalf("expected validation kind, got %s", KindOf(err))
	}
	if err.Error() != "contract: fee must be >= 0" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
