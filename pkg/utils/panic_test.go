package utils

import (
	"strings"
	"testing"
)

func TestVersionFormat(t *testing.T) {
	if Version == "" {
		t.Fatal("Version should not be empty")
	}
	if Version[0] != 'v' {
		t.Errorf("Version should start with 'v', got %q", Version)
	}
	if !strings.Contains(Version, ".") {
		t.Errorf("Version should contain '.', got %q", Version)
	}
}

func TestSafeRunExecutesFunction(t *testing.T) {
	executed := false
	err := SafeRun(func() {
		executed = true
	})
	if !executed {
		t.Error("SafeRun should execute the provided function")
	}
	if err != nil {
		t.Errorf("SafeRun should return nil when fn does not panic, got %v", err)
	}
}

func TestSafeRunRecoversPanicAsError(t *testing.T) {
	err := SafeRun(func() {
		panic("boom")
	})
	if err == nil {
		t.Fatal("SafeRun should return an error when fn panics")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected panic message in error, got %v", err)
	}
}

func TestSafeRunRecoversNonStringPanic(t *testing.T) {
	err := SafeRun(func() {
		panic(42)
	})
	if err == nil {
		t.Fatal("SafeRun should return an error for a non-string panic value")
	}
	if !strings.Contains(err.Error(), "42") {
		t.Errorf("expected panic value in error, got %v", err)
	}
}

func TestSafeRunDoesNotLeakPanicToCaller(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("SafeRun should not let a panic escape, got %v", r)
		}
	}()
	SafeRun(func() {
		panic("should be contained")
	})
}
