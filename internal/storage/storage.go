// storage задаёт контракт персистентного key-value хранилища клиентской сессии
// (аналог localStorage): строки по строковым ключам, атомарная запись нескольких
// ключей и удаление. Реализации: bolt (файл), redis, memory; sealed шифрует значения
// поверх любой из них.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound — ключ отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrClosed — хранилище уже закрыто.
	ErrClosed = errors.New("storage closed")
	// ErrCorrupted — значение есть, но его не удалось расшифровать или разобрать.
	ErrCorrupted = errors.New("corrupted value")
)

// Ключи, под которыми сессия хранит свои данные.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// Storage задаёт контракт персистентного key-value хранилища.
type Storage interface {
	// Get возвращает значение ключа или ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// SetMany записывает все пары одной транзакцией: либо все, либо ни одной.
	SetMany(ctx context.Context, kv map[string]string) error
	// Delete удаляет ключи одной транзакцией; отсутствующие ключи не ошибка.
	Delete(ctx context.Context, keys ...string) error
	// Close освобождает ресурсы.
	Close() error
}
