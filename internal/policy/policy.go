package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
)

// mutatingCommands submit on-chain transactions.
var mutatingCommands = map[string]struct{}{
	"approvals deposit": {},
	"approvals zap-out": {},
}

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// IsMutating reports whether commandPath (without the binary name) submits
// a transaction.
func IsMutating(commandPath string) bool {
	_, ok := mutatingCommands[normalize(commandPath)]
	return ok
}

// CheckConfirmed requires explicit confirmation before a mutating command runs.
func CheckConfirmed(commandPath string, confirmed bool) error {
	if !IsMutating(commandPath) || confirmed {
		return nil
	}
	return clierr.New(clierr.CodeUsage, normalize(commandPath)+" submits a transaction; re-run with --yes to confirm")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
