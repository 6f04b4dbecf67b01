package backend

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	provider := &Error{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}

	if got := ErrorMessage(provider); got != "Invalid login credentials" {
		t.Errorf("Expected provider message, got %q", got)
	}

	wrapped := fmt.Errorf("sign in: %w", provider)
	if got := ErrorMessage(wrapped); got != "Invalid login credentials" {
		t.Errorf("Expected provider message through wrapping, got %q", got)
	}

	plain := errors.New("dial tcp: connection refused")
	if got := ErrorMessage(plain); got != plain.Error() {
		t.Errorf("Expected raw error text, got %q", got)
	}

	if got := ErrorMessage(nil); got != "" {
		t.Errorf("Expected empty string for nil, got %q", got)
	}
}
