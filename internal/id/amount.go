package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// NormalizeAmount accepts exactly one of a base-unit integer or a decimal
// amount and returns both representations.
func NormalizeAmount(baseUnits, amount string, decimals int) (string, string, error) {
	if baseUnits != "" && amount != "" {
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && amount == "" {
		return "", "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return "", "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		n, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok {
			return "", "", clierr.New(clierr.CodeUsage, "--amount must be an integer string")
		}
		if n.Sign() < 0 {
			return "", "", clierr.New(clierr.CodeUsage, "--amount must be non-negative")
		}
		return n.String(), FormatUnits(n.String(), decimals), nil
	}

	if !decimalPattern.MatchString(amount) {
		return "", "", clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", "", clierr.Wrap(clierr.CodeUsage, "invalid decimal amount", err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return "", "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	return scaled.BigInt().String(), d.String(), nil
}

// FormatUnits renders a base-unit integer string as a decimal string.
func FormatUnits(baseUnits string, decimals int) string {
	n, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return "0"
	}
	return decimal.NewFromBigInt(n, -int32(decimals)).String()
}

// IsZeroAmount reports whether an integer amount string is zero. Unparseable
// input is treated as zero.
func IsZeroAmount(amount string) bool {
	n, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	return !ok || n.Sign() == 0
}
