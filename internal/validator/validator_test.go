package validator

import "testing"

func TestValidateCurrency(t *testing.T) {
	for _, currency := range []string{"USD", "EUR", "GBP"} {
		if err := ValidateCurrency(currency); err != nil {
			t.Fatalf("expected %s to validate: %v", currency, err)
		}
	}
	for _, currency := range []string{"usd", "US", "USDT", "", "U$D", "JPY"} {
		if err := ValidateCurrency(currency); err != ErrInvalidCurrency {
			t.Fatalf("expected ErrInvalidCurrency for %q, got %v", currency, err)
		}
	}
}

func TestValidateTransactionType(t *testing.T) {
	for _, txType := range []string{"DEPOSIT", "WITHDRAWAL", "TRANSFER"} {
		if err := ValidateTransactionType(txType); err != nil {
			t.Fatalf("expected %s to validate: %v", txType, err)
		}
	}
	for _, txType := range []string{"deposit", "EXCHANGE", ""} {
		if err := ValidateTransactionType(txType); err != ErrInvalidType {
			t.Fatalf("expected ErrInvalidType for %q, got %v", txType, err)
		}
	}
}
