package callsite

import (
	"strings"
	"testing"
)

// TestCaptureRecordsCaller verifies the captured stack names the calling
// function and file.
func TestCaptureRecordsCaller(t *testing.T) {
	s := Capture(0)

	str := s.String()
	if !strings.Contains(str, "TestCaptureRecordsCaller") {
		t.Errorf("Stack.String() = %q, want it to contain the caller function name", str)
	}
	if !strings.Contains(str, "callsite_test.go") {
		t.Errorf("Stack.String() = %q, want it to contain the caller file", str)
	}
}

// TestOriginIsSingleLine verifies Origin returns one "func file:line" entry.
func TestOriginIsSingleLine(t *testing.T) {
	s := Capture(0)

	origin := s.Origin()
	if strings.Contains(origin, "\n") {
		t.Errorf("Origin() = %q, want a single line", origin)
	}
	if !strings.Contains(origin, "TestOriginIsSingleLine") {
		t.Errorf("Origin() = %q, want it to name the caller", origin)
	}
}

// TestEmptyStack verifies zero-value stacks format as "unknown" instead of
// panicking.
func TestEmptyStack(t *testing.T) {
	var s Stack
	if got := s.String(); got != "unknown" {
		t.Errorf("String() = %q, want %q", got, "unknown")
	}
	if got := s.Origin(); got != "unknown" {
		t.Errorf("Origin() = %q, want %q", got, "unknown")
	}
}

// TestCaptureSkip verifies the skip parameter drops the immediate caller.
func TestCaptureSkip(t *testing.T) {
	s := helperCapture()
	origin := s.Origin()
	if strings.Contains(origin, "helperCapture") {
		t.Errorf("Origin() = %q, want helper frame skipped", origin)
	}
}

func helperCapture() Stack {
	return Capture(1)
}
