// tokenstest выпускает подписанные HS256 токены для тестов пакетов сессии.
package tokenstest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Secret — ключ, которым подписаны токены из Token.
const Secret = "tokenstest-secret"

// Token возвращает access-токен с заданным exp.
func Token(t testing.TB, exp time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(Secret))
	require.NoError(t, err)

	return s
}

// NoExp возвращает корректно подписанный токен без claim exp.
func NoExp(t testing.TB) string {
	t.Helper()

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString([]byte(Secret))
	require.NoError(t, err)

	return s
}
