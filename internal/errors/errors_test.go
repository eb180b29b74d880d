package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if got := test.class.String(); got != test.expected {
				t.Errorf("expected %s, got %s", test.expected, got)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"transient wrap", WrapTransient(base, "Ring", "Put", "wait for space"), ErrorTransient},
		{"invalid wrap", WrapInvalid(base, "Directory", "Create", "create region"), ErrorInvalid},
		{"fatal wrap", WrapFatal(base, "File", "Write", "write segment"), ErrorFatal},
		{"deadline", context.DeadlineExceeded, ErrorTransient},
		{"would block", fmt.Errorf("get: %w", ErrWouldBlock), ErrorTransient},
		{"invalid data", fmt.Errorf("header: %w", ErrInvalidData), ErrorInvalid},
		{"unknown", base, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for %v", test.expected, got, test.err)
			}
		})
	}
}

func TestWrapKeepsChain(t *testing.T) {
	base := errors.New("ring exists")
	err := WrapInvalid(base, "Directory", "Create", "create region")
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error lost its cause: %v", err)
	}
	want := "Directory.Create: create region failed: ring exists"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Component != "Directory" || ce.Operation != "Create" {
		t.Fatalf("classified fields not set: %+v", ce)
	}
}

func TestWrapNil(t *testing.T) {
	if WrapTransient(nil, "a", "b", "c") != nil || WrapFatal(nil, "a", "b", "c") != nil ||
		WrapInvalid(nil, "a", "b", "c") != nil || Wrap(nil, "a", "b", "c") != nil {
		t.Fatal("wrapping nil must return nil")
	}
}

func TestRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()
	transient := WrapTransient(errors.New("full"), "Ring", "Put", "reserve")
	if !rc.ShouldRetry(transient, 0) {
		t.Fatal("expected transient error to be retried")
	}
	if rc.ShouldRetry(transient, rc.MaxRetries) {
		t.Fatal("expected retries to stop at MaxRetries")
	}
	if rc.ShouldRetry(WrapFatal(errors.New("io"), "a", "b", "c"), 0) {
		t.Fatal("fatal errors must not be retried")
	}
	if got := rc.ToRetryConfig().MaxAttempts; got != rc.MaxRetries+1 {
		t.Fatalf("MaxAttempts = %d, want %d", got, rc.MaxRetries+1)
	}
}
