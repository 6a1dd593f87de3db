package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewUsesRegisteredMessage(t *testing.T) {
	err := New(CodeInvalidProof, "")
	if err.Message() != "proof verification failed" {
		t.Fatalf("message = %q, want registered default", err.Message())
	}
	if err.Code() != CodeInvalidProof {
		t.Fatalf("code = %s, want %s", err.Code(), CodeInvalidProof)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeStorageFailure, cause, "insert record")

	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatal("errors.Is must match on code")
	}
	if stdErrors.Unwrap(err) != cause {
		t.Fatal("unwrap must return the cause")
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("CodeOf = %s, want %s", CodeOf(err), CodeStorageFailure)
	}
}

func TestCodeOfThroughWrapping(t *testing.T) {
	inner := New(CodeAlreadyAttested, "duplicate")
	outer := fmt.Errorf("registry: %w", inner)

	if CodeOf(outer) != CodeAlreadyAttested {
		t.Fatalf("CodeOf = %s through fmt wrap, want %s", CodeOf(outer), CodeAlreadyAttested)
	}
	if CodeOf(fmt.Errorf("plain")) != CodeUnknown {
		t.Fatal("plain errors must map to UNKNOWN")
	}
}

func TestAttributeDrivenBehaviour(t *testing.T) {
	cases := []struct {
		code      Code
		retryable bool
		alert     bool
		severity  Severity
	}{
		{CodeInvalidProof, false, true, SeverityWarning},
		{CodeInvalidTimestamp, true, false, SeverityInfo},
		{CodeStorageFailure, true, true, SeverityCritical},
		{CodeAlreadyAttested, false, false, SeverityInfo},
		{CodeCircuitMismatch, false, true, SeverityCritical},
	}
	for _, tc := range cases {
		err := New(tc.code, "")
		if got := RetryableError(err); got != tc.retryable {
			t.Errorf("RetryableError(%s) = %v, want %v", tc.code, got, tc.retryable)
		}
		if got := ShouldAlert(err); got != tc.alert {
			t.Errorf("ShouldAlert(%s) = %v, want %v", tc.code, got, tc.alert)
		}
		if got := SeverityOf(err); got != tc.severity {
			t.Errorf("SeverityOf(%s) = %v, want %v", tc.code, got, tc.severity)
		}
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeInvalidInput, "bad weights", WithMetadata("field", "weights"))
	meta := err.Metadata()
	if meta["field"] != "weights" {
		t.Fatalf("metadata = %v", meta)
	}
	meta["field"] = "mutated"
	if err.Metadata()["field"] != "weights" {
		t.Fatal("returned metadata must be a copy")
	}
}
