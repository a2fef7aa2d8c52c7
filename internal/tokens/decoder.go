package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrDecode — из токена не удалось достать exp. Вызывающие считают такой токен истёкшим.
var ErrDecode = errors.New("cannot decode token expiry")

// ExpiryDecoder достаёт момент истечения из access-токена.
type ExpiryDecoder interface {
	Expiry(token string) (time.Time, error)
}

// UnverifiedDecoder читает claim exp из средней части токена без проверки подписи.
// Заголовок не разбирается вовсе: токен с неизвестным или пропущенным alg всё равно декодируется.
// Результат носит рекомендательный характер: подлинность токена проверяет сервер.
type UnverifiedDecoder struct{}

func (UnverifiedDecoder) Expiry(token string) (time.Time, error) {
	const op = "tokens.UnverifiedDecoder.Expiry"

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%s: %w: want 3 segments, got %d", op, ErrDecode, len(parts))
	}

	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}

	return expiryFrom(op, claims)
}

// HMACDecoder проверяет подпись HS256 общим секретом и только потом читает exp.
// Срок действия при разборе не валидируется: решение об истечении принимает Store.
type HMACDecoder struct {
	Secret []byte
}

func (d HMACDecoder) Expiry(token string) (time.Time, error) {
	const op = "tokens.HMACDecoder.Expiry"

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			return d.Secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}

	return expiryFrom(op, claims)
}

func expiryFrom(op string, claims jwt.MapClaims) (time.Time, error) {
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%s: %w: no exp claim", op, ErrDecode)
	}

	return exp.Time, nil
}
