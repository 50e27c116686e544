package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindPredicates(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{Validation("amount %v below minimum", 5.0), KindValidation},
		{NotFound("pool %s", "p1"), KindNotFound},
		{Conflict("already claimed"), KindConflict},
		{Settlement("mint failed", errors.New("timeout")), KindSettlement},
	}

	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.kind {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.kind)
		}
	}

	if !IsValidation(Validation("bad")) {
		t.Error("IsValidation returned false for validation error")
	}
	if IsConflict(NotFound("missing")) {
		t.Error("IsConflict returned true for not-found error")
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("invest: %w", Conflict("pool not ACTIVE"))
	if !IsConflict(err) {
		t.Errorf("wrapped conflict not detected: %v", err)
	}
}

func TestKindOfForeignError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("KindOf(foreign) = %s, want %s", got, KindInternal)
	}
}

func TestSettlementUnwrap(t *testing.T) {
	cause := errors.New("gateway timeout")
	err := Settlement("transfer token", cause)
	if !errors.Is(err, cause) {
		t.Error("Settlement error does not unwrap to its cause")
	}
}
