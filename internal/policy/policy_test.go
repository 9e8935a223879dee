package policy

import (
	"testing"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "tokens balances"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"Tokens  Balances"}, "tokens balances"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	err := CheckCommandAllowed([]string{"tokens supported"}, "approvals deposit")
	if !clierr.HasCode(err, clierr.CodeBlocked) {
		t.Fatalf("expected command to be blocked, got %v", err)
	}
}

func TestCheckConfirmed(t *testing.T) {
	if err := CheckConfirmed("tokens balances", false); err != nil {
		t.Fatalf("read command should not need confirmation: %v", err)
	}
	if err := CheckConfirmed("approvals deposit", true); err != nil {
		t.Fatalf("confirmed mutation should pass: %v", err)
	}
	err := CheckConfirmed("approvals  zap-out", false)
	if !clierr.HasCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if IsMutating("approvals allowance") {
		t.Fatal("allowance is read-only")
	}
}
