// tokens хранит пару токенов и запись пользователя клиентской сессии.
//
// Store — write-through кэш поверх storage.Storage: все чтения идут из памяти
// под мьютексом, все записи сначала уходят в хранилище, затем в кэш. Пара
// access/refresh всегда пишется одной транзакцией, поэтому читатель никогда
// не увидит старый access рядом с новым refresh.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pribylovaa/estate-session/internal/models"
	"github.com/pribylovaa/estate-session/internal/pkg/clock"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
	"github.com/pribylovaa/estate-session/internal/storage"
)

// DefaultExpiringWindow — за сколько до истечения токен считается «скоро истекающим».
const DefaultExpiringWindow = time.Hour

// Options — необязательные зависимости Store. Нулевые поля получают значения по умолчанию.
type Options struct {
	Decoder        ExpiryDecoder
	Clock          clock.Clock
	ExpiringWindow time.Duration
}

// Store — хранилище токенов и пользователя.
type Store struct {
	st     storage.Storage
	dec    ExpiryDecoder
	clk    clock.Clock
	window time.Duration

	mu      sync.RWMutex
	access  string
	refresh string
	user    *models.User
}

// New создаёт Store. До Load кэш пуст.
func New(st storage.Storage, opts Options) *Store {
	s := &Store{
		st:     st,
		dec:    opts.Decoder,
		clk:    opts.Clock,
		window: opts.ExpiringWindow,
	}

	if s.dec == nil {
		s.dec = UnverifiedDecoder{}
	}
	if s.clk == nil {
		s.clk = clock.Real()
	}
	if s.window <= 0 {
		s.window = DefaultExpiringWindow
	}

	return s
}

// Load заполняет кэш из хранилища. Вызывается один раз при старте:
// при холодном старте хранилище — источник истины.
// Повреждённые значения считаются отсутствующими: пара токенов или запись
// пользователя удаляется из хранилища с предупреждением. Ошибкой завершаются
// только сбои самого хранилища.
func (s *Store) Load(ctx context.Context) error {
	const op = "tokens.Store.Load"

	lg := log.From(ctx).With(slog.String("op", op))

	access, accessErr := s.getOptional(ctx, storage.KeyAccessToken)
	refresh, refreshErr := s.getOptional(ctx, storage.KeyRefreshToken)
	if err := hardError(accessErr, refreshErr); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if accessErr != nil || refreshErr != nil {
		lg.Warn("persisted_tokens_corrupted", slog.String("err", errors.Join(accessErr, refreshErr).Error()))
		access, refresh = "", ""
		s.dropCorrupted(ctx, lg, storage.KeyAccessToken, storage.KeyRefreshToken)
	}

	rawUser, err := s.getOptional(ctx, storage.KeyUser)
	if err := hardError(err); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var user *models.User
	if err == nil && rawUser != "" {
		var u models.User
		if jerr := json.Unmarshal([]byte(rawUser), &u); jerr != nil {
			err = fmt.Errorf("%w: %w", storage.ErrCorrupted, jerr)
		} else {
			user = &u
		}
	}
	if err != nil {
		lg.Warn("persisted_user_corrupted", slog.String("err", err.Error()))
		s.dropCorrupted(ctx, lg, storage.KeyUser)
	}

	s.mu.Lock()
	s.access, s.refresh, s.user = access, refresh, user
	s.mu.Unlock()

	lg.Debug("token_store_loaded",
		slog.Bool("has_access", access != ""),
		slog.Bool("has_refresh", refresh != ""),
		slog.Bool("has_user", user != nil),
	)

	return nil
}

func (s *Store) getOptional(ctx context.Context, key string) (string, error) {
	v, err := s.st.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}

	return v, err
}

// hardError возвращает первую ошибку, не являющуюся storage.ErrCorrupted.
func hardError(errs ...error) error {
	for _, err := range errs {
		if err != nil && !errors.Is(err, storage.ErrCorrupted) {
			return err
		}
	}
	return nil
}

// dropCorrupted удаляет нечитаемые ключи. Сбой удаления только логируется:
// кэш всё равно останется пустым.
func (s *Store) dropCorrupted(ctx context.Context, lg *slog.Logger, keys ...string) {
	if err := s.st.Delete(ctx, keys...); err != nil {
		lg.Warn("persisted_corrupted_delete_failed", slog.String("err", err.Error()))
	}
}

// AccessToken возвращает текущий access-токен ("" если нет).
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// RefreshToken возвращает текущий refresh-токен ("" если нет).
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// Pair возвращает согласованный снимок обоих токенов.
func (s *Store) Pair() models.TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.TokenPair{AccessToken: s.access, RefreshToken: s.refresh}
}

// Set записывает токены. Пустая строка означает «значение не передано»:
// соответствующее поле остаётся прежним. Явно очистить поле через Set нельзя, для этого есть Clear.
func (s *Store) Set(ctx context.Context, access, refresh string) error {
	const op = "tokens.Store.Set"

	kv := make(map[string]string, 2)
	if access != "" {
		kv[storage.KeyAccessToken] = access
	}
	if refresh != "" {
		kv[storage.KeyRefreshToken] = refresh
	}
	if len(kv) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.st.SetMany(ctx, kv); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if access != "" {
		s.access = access
	}
	if refresh != "" {
		s.refresh = refresh
	}

	return nil
}

// Rotate заменяет обе части пары, если текущий refresh-токен равен expectedRefresh.
// Возвращает false без записи, если сессию за это время очистили или заменили.
func (s *Store) Rotate(ctx context.Context, expectedRefresh string, pair models.TokenPair) (bool, error) {
	const op = "tokens.Store.Rotate"

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return false, fmt.Errorf("%s: incomplete token pair", op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if expectedRefresh == "" || s.refresh != expectedRefresh {
		return false, nil
	}

	if err := s.st.SetMany(ctx, map[string]string{
		storage.KeyAccessToken:  pair.AccessToken,
		storage.KeyRefreshToken: pair.RefreshToken,
	}); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.access, s.refresh = pair.AccessToken, pair.RefreshToken

	return true, nil
}

// Clear удаляет обе части пары. Кэш очищается даже при ошибке хранилища:
// процесс не должен продолжать пользоваться токенами, которые решено выбросить.
func (s *Store) Clear(ctx context.Context) error {
	const op = "tokens.Store.Clear"

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clearLocked(ctx, op)
}

// ClearIf очищает пару, только если текущий refresh-токен равен expectedRefresh.
func (s *Store) ClearIf(ctx context.Context, expectedRefresh string) (bool, error) {
	const op = "tokens.Store.ClearIf"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refresh != expectedRefresh {
		return false, nil
	}

	if err := s.clearLocked(ctx, op); err != nil {
		return true, err
	}

	return true, nil
}

func (s *Store) clearLocked(ctx context.Context, op string) error {
	s.access, s.refresh = "", ""

	if err := s.st.Delete(ctx, storage.KeyAccessToken, storage.KeyRefreshToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SetUser сохраняет запись пользователя (JSON) для восстановления после перезапуска.
func (s *Store) SetUser(ctx context.Context, u models.User) error {
	const op = "tokens.Store.SetUser"

	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.st.SetMany(ctx, map[string]string{storage.KeyUser: string(b)}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.user = &u

	return nil
}

// User возвращает сохранённую запись пользователя.
func (s *Store) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return models.User{}, false
	}

	return *s.user, true
}

// ClearUser удаляет запись пользователя.
func (s *Store) ClearUser(ctx context.Context) error {
	const op = "tokens.Store.ClearUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = nil
	if err := s.st.Delete(ctx, storage.KeyUser); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DecodeExpiry возвращает момент истечения токена или ErrDecode.
func (s *Store) DecodeExpiry(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, fmt.Errorf("tokens.Store.DecodeExpiry: %w: empty token", ErrDecode)
	}

	return s.dec.Expiry(token)
}

// IsTokenExpired: now >= exp. Отсутствующий или нечитаемый токен считается истёкшим.
func (s *Store) IsTokenExpired(token string) bool {
	exp, err := s.DecodeExpiry(token)
	if err != nil {
		return true
	}

	return !s.clk.Now().Before(exp)
}

// IsTokenExpiringSoon: exp - now < окно. Отсутствующий или нечитаемый токен считается истекающим.
func (s *Store) IsTokenExpiringSoon(token string) bool {
	exp, err := s.DecodeExpiry(token)
	if err != nil {
		return true
	}

	return exp.Sub(s.clk.Now()) < s.window
}

// IsExpired проверяет текущий access-токен.
func (s *Store) IsExpired() bool { return s.IsTokenExpired(s.AccessToken()) }

// IsExpiringSoon проверяет текущий access-токен.
func (s *Store) IsExpiringSoon() bool { return s.IsTokenExpiringSoon(s.AccessToken()) }

// IsAuthenticated: access-токен есть и не истёк.
func (s *Store) IsAuthenticated() bool {
	access := s.AccessToken()
	return access != "" && !s.IsTokenExpired(access)
}
