package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("nil error exit code = %d", got)
	}
	if got := ExitCode(stderrors.New("plain")); got != int(CodeInternal) {
		t.Fatalf("plain error exit code = %d", got)
	}
	wrapped := fmt.Errorf("outer: %w", UnsupportedNetwork(42))
	if got := ExitCode(wrapped); got != int(CodeUnsupportedNetwork) {
		t.Fatalf("wrapped exit code = %d", got)
	}
}

func TestUnsupportedNetworkMessage(t *testing.T) {
	err := UnsupportedNetwork(42)
	if err.Error() != "the chain 42 hasn't been implemented yet" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestHasCodeWalksNestedTypedErrors(t *testing.T) {
	inner := Consistency("Dynamic asset does not exist for 0xabc")
	outer := ProviderFailure("lendingMarket", inner)
	if !HasCode(outer, CodeProvider) || !HasCode(outer, CodeConsistency) {
		t.Fatalf("expected both codes in chain")
	}
	if HasCode(outer, CodeTransaction) {
		t.Fatalf("unexpected transaction code")
	}
	if !stderrors.Is(Transaction("send", context.Canceled), context.Canceled) {
		t.Fatalf("expected cause to unwrap")
	}
}
