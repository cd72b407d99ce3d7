package validator

import (
	"errors"
	"regexp"

	"walletledger/internal/models"
)

var (
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidType     = errors.New("invalid transaction type")
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

var supportedCurrencies = map[string]struct{}{
	"USD": {},
	"EUR": {},
	"GBP": {},
}

func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return ErrInvalidCurrency
	}
	if _, ok := supportedCurrencies[currency]; !ok {
		return ErrInvalidCurrency
	}
	return nil
}

func ValidateTransactionType(txType string) error {
	switch txType {
	case models.TypeDeposit, models.TypeWithdrawal, models.TypeTransfer:
		return nil
	default:
		return ErrInvalidType
	}
}
