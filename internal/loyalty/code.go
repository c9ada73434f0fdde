package loyalty

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	defaultCodePrefix = "REWARD"
	codeSuffixLen     = 6
	codeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CodeGenerator выдаёт коды погашения наград.
type CodeGenerator func(prefix string) (string, error)

// NewRedemptionCode формирует код вида PREFIX-XXXXXX из заглавных латинских букв и цифр.
func NewRedemptionCode(prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultCodePrefix
	}

	var b strings.Builder
	b.Grow(len(prefix) + 1 + codeSuffixLen)
	b.WriteString(prefix)
	b.WriteByte('-')

	limit := big.NewInt(int64(len(codeAlphabet)))
	for range codeSuffixLen {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate redemption code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}

	return b.String(), nil
}
