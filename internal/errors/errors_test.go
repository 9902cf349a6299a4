package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeInvalidMnemonic, "")
	err := fmt.Errorf("recover wallet: %w", New(CodeInvalidMnemonic, "checksum mismatch"))
	if !stdErrors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stdErrors.Is(err, New(CodeParse, "")) {
		t.Fatal("different codes must not match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeFaucet, cause, "faucet unreachable")
	if !stdErrors.Is(err, cause) {
		t.Fatal("cause lost")
	}
	if err.Error() != "faucet unreachable: connection refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !RetryableError(err) {
		t.Fatal("faucet failures are retryable by default")
	}
	if RetryableError(Wrap(CodeFaucet, cause, "", WithRetryable(false))) {
		t.Fatal("override ignored")
	}
}

func TestDefaultsForUnregisteredCode(t *testing.T) {
	err := New(Code("NOPE"), "")
	if err.Message() != "unknown error" {
		t.Fatalf("unexpected fallback message %q", err.Message())
	}
	if SeverityOf(err) != SeverityCritical {
		t.Fatalf("unexpected severity %s", SeverityOf(err))
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors map to UNKNOWN")
	}
}

func TestRegisterAddsCode(t *testing.T) {
	Register(Code("TEST_CODE"), Attributes{Message: "test", Severity: SeverityInfo})
	found := false
	for _, code := range Codes() {
		if code == "TEST_CODE" {
			found = true
		}
	}
	if !found {
		t.Fatal("registered code missing")
	}
	if New(Code("TEST_CODE"), "").Metadata() != nil {
		t.Fatal("metadata should be nil when unset")
	}
}
