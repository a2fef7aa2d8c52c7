// bolt — файловое хранилище сессии на bbolt. Используется по умолчанию:
// переживает перезапуск процесса (холодный старт читает отсюда).
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/pribylovaa/estate-session/internal/storage"
)

var bktSession = []byte("session")

// Storage — обёртка над bolt.DB с одним бакетом.
type Storage struct {
	db        *bolt.DB
	closeFunc func() error
}

// New открывает (или создаёт) файл базы по пути path.
// Файловая блокировка ждёт не дольше секунды: второй процесс с тем же файлом
// получит ошибку, а не зависнет.
func New(path string) (*Storage, error) {
	const op = "storage.bolt.New"

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%s: open %q: %w", op, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bktSession)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: create bucket: %w", op, err)
	}

	return &Storage{
		db:        db,
		closeFunc: db.Close,
	}, nil
}

// NewTemp создаёт базу во временном каталоге и удаляет файл при Close.
func NewTemp() (*Storage, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("estate-session-%s.db", uuid.New().String()))
	s, err := New(path)
	if err != nil {
		return nil, err
	}

	originalCloseFunc := s.closeFunc
	s.closeFunc = func() error {
		if err := originalCloseFunc(); err != nil {
			return err
		}
		return os.Remove(path)
	}

	return s, nil
}

func (s *Storage) Get(_ context.Context, key string) (string, error) {
	const op = "storage.bolt.Get"

	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSession)
		if b == nil {
			return storage.ErrNotFound
		}

		v := b.Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}

		// v валиден только внутри транзакции.
		val = string(v)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return val, nil
}

func (s *Storage) SetMany(_ context.Context, kv map[string]string) error {
	const op = "storage.bolt.SetMany"

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bktSession)
		if err != nil {
			return err
		}

		for k, v := range kv {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return nil
}

func (s *Storage) Delete(_ context.Context, keys ...string) error {
	const op = "storage.bolt.Delete"

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSession)
		if b == nil {
			return nil
		}

		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return nil
}

// Close закрывает базу.
func (s *Storage) Close() error {
	return s.closeFunc()
}

func mapErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return storage.ErrClosed
	}

	return err
}
