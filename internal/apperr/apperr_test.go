package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsChain(t *testing.T) {
	base := &Error{Kind: KindQuery, Code: "42703", Message: `column "amt" does not exist`, Engine: "postgresql"}
	wrapped := fmt.Errorf("execute: %w", base)

	if got := KindOf(wrapped); got != KindQuery {
		t.Fatalf("KindOf() = %q", got)
	}
	appErr, ok := As(wrapped)
	if !ok {
		t.Fatal("As() should find the typed error")
	}
	if appErr != base {
		t.Fatal("As() should return the original error value")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("KindOf() = %q", got)
	}
	if IsKind(nil, KindInternal) {
		t.Fatal("nil error should not match any kind")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindConnection, "ECONNREFUSED", cause)
	if !errors.Is(err, cause) {
		t.Fatal("wrapped error should unwrap to cause")
	}
	if err.Message != cause.Error() {
		t.Fatalf("Message = %q", err.Message)
	}
	if err.Error() != "connection: dial tcp: connection refused (ECONNREFUSED)" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestUnsupportedEngine(t *testing.T) {
	err := UnsupportedEngine("oracle")
	if err.Kind != KindUnsupportedEngine || err.Code != "UNSUPPORTED_DB_TYPE" || err.Engine != "oracle" {
		t.Fatalf("UnsupportedEngine() = %+v", err)
	}
}
