package validation

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// maxAmount ограничивает сумму покупки в запросах расчёта баллов.
var maxAmount = decimal.NewFromInt(1_000_000)

// ParseAmount читает неотрицательную денежную сумму из параметра запроса key.
func ParseAmount(r *http.Request, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return decimal.Zero, &Error{Message: "query parameter is required", Fields: map[string]string{key: "is required"}}
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &Error{Message: "query parameter must be numeric", Fields: map[string]string{key: "must be a number"}}
	}
	if amount.IsNegative() || amount.GreaterThan(maxAmount) {
		return decimal.Zero, &Error{Message: "query parameter out of range", Fields: map[string]string{key: "must be between 0 and " + maxAmount.String()}}
	}
	return amount, nil
}

// ParseLimit читает необязательный размер выборки из параметра key. Отсутствующий параметр даёт 0.
func ParseLimit(r *http.Request, key string, maxLimit int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		return 0, &Error{Message: "query parameter out of range", Fields: map[string]string{key: "must be between 1 and " + strconv.Itoa(maxLimit)}}
	}
	return n, nil
}

// SanitizeString обрезает пробелы по краям и ограничивает длину строки maxLen символами.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return trimmed
}
