package money

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
)

// ParseMinor converts a decimal amount string ("40", "40.5", "40.50") into
// minor units. Balances never pass through floating point.
func ParseMinor(input string) (int64, error) {
	parsed, err := decimal.NewFromString(input)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	minor := parsed.Shift(2)
	if !minor.IsInteger() {
		return 0, ErrTooManyDecimals
	}
	if !minor.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

func FormatMinor(value int64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	formatted := fmt.Sprintf("%d.%02d", value/100, value%100)
	if negative {
		return "-" + formatted
	}
	return formatted
}

func ValueToInt64(value any) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case []byte:
		parsed, _ := strconv.ParseInt(string(v), 10, 64)
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(v, 10, 64)
		return parsed
	default:
		parsed, _ := strconv.ParseInt(fmt.Sprint(v), 10, 64)
		return parsed
	}
}
