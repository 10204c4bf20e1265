package pferr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappers(t *testing.T) {
	err := fmt.Errorf("setup: %w", Configf("bin_size has %d values for %d dimensions", 3, 2))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if errors.Is(err, ErrData) {
		t.Fatal("configuration error must not match ErrData")
	}
	want := "setup: placefield: configuration error: bin_size has 3 values for 2 dimensions"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	if !errors.Is(Dataf("empty"), ErrData) {
		t.Error("Dataf must wrap ErrData")
	}
}
