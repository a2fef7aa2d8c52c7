// sealed шифрует значения поверх любого storage.Storage (AES-256-GCM через cryptopasta),
// чтобы токены не лежали на диске или в Redis в открытом виде. Ключи не шифруются.
package sealed

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gtank/cryptopasta"

	"github.com/pribylovaa/estate-session/internal/storage"
)

// ErrEmptySecret — секрет шифрования не задан.
var ErrEmptySecret = errors.New("empty secret")

// Storage — шифрующий декоратор.
type Storage struct {
	inner storage.Storage
	key   *[32]byte
}

// New оборачивает inner. Ключ AES выводится как sha256(secret).
func New(inner storage.Storage, secret string) (*Storage, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := sha256.Sum256([]byte(secret))
	return &Storage{inner: inner, key: &key}, nil
}

// Get расшифровывает значение. Нерасшифровываемое значение (другой секрет,
// порча данных) даёт storage.ErrCorrupted.
func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	const op = "storage.sealed.Get"

	v, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}

	plain, err := s.decrypt(v)
	if err != nil {
		return "", fmt.Errorf("%s: %q: %w: %w", op, key, storage.ErrCorrupted, err)
	}

	return plain, nil
}

func (s *Storage) SetMany(ctx context.Context, kv map[string]string) error {
	const op = "storage.sealed.SetMany"

	enc := make(map[string]string, len(kv))
	for k, v := range kv {
		c, err := s.encrypt(v)
		if err != nil {
			return fmt.Errorf("%s: %q: %w", op, k, err)
		}
		enc[k] = c
	}

	return s.inner.SetMany(ctx, enc)
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	return s.inner.Delete(ctx, keys...)
}

func (s *Storage) Close() error { return s.inner.Close() }

func (s *Storage) encrypt(plain string) (string, error) {
	b, err := cryptopasta.Encrypt([]byte(plain), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}

	return base64.StdEncoding.EncodeToString(b), nil
}

func (s *Storage) decrypt(cipher string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipher)
	if err != nil {
		return "", fmt.Errorf("failed to decode: %w", err)
	}

	b, err := cryptopasta.Decrypt(raw, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(b), nil
}
