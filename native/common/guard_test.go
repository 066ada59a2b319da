package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, "loan"); err != nil {
		t.Fatalf("nil view must not pause: %v", err)
	}
	set := NewPauseSet(" Loan ", "")
	if !set.IsPaused("loan") || !set.IsPaused("LOAN") {
		t.Fatalf("expected loan to be paused: %+v", set)
	}
	if err := Guard(set, "loan"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(set, "swap"); err != nil {
		t.Fatalf("unexpected pause for other module: %v", err)
	}
	if err := Guard(set, ""); err != nil {
		t.Fatalf("empty module must not pause: %v", err)
	}
}
