package domain

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	digestRegex   = regexp.MustCompile(`^[0-9a-fA-F]{32,128}$`)
)

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidatePositiveAmount checks that an amount is strictly positive.
func ValidatePositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount)
	}
	return nil
}

// ValidateDigest checks that a supplied signature looks like a hex digest.
func ValidateDigest(s string) error {
	if !digestRegex.MatchString(s) {
		return fmt.Errorf("digest must be 32-128 hex characters")
	}
	return nil
}
