// service содержит жизненный цикл токенов клиентской сессии:
// обмен refresh-токена с ротацией пары, вход и admin-check.
//
// Основные аспекты:
//   - Refresh — единственный путь, по которому refresh-токен уходит в сеть.
//   - Конкурентные вызовы Refresh с одним и тем же refresh-токеном разделяют
//     один запрос к backend (singleflight): второй обмен уже ротированного токена
//     привёл бы к отказу и принудительному выходу.
//   - Результат обмена применяется через compare-and-swap по отправленному
//     refresh-токену: если за время запроса сессию очистили или заменили,
//     ответ отбрасывается и хранилище не перезаписывается.
//   - Экземпляр Service безопасен для конкурентного использования.
package service

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"

	"github.com/pribylovaa/estate-session/internal/metrics"
	"github.com/pribylovaa/estate-session/internal/models"
	"github.com/pribylovaa/estate-session/internal/tokens"
)

var (
	// ErrNoRefreshToken — refresh вызван без сохранённого refresh-токена.
	// Хранилище не меняется; нужен повторный вход. Транспорт: HTTP 401.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrRefreshRejected — backend отказал в обмене (истёк, отозван, уже ротирован).
	// Обе части пары очищены. Транспорт: HTTP 401.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrTransport — backend недоступен во время обмена. Токены очищаются,
	// если не включён session.keep_tokens_on_transport_error. Транспорт: HTTP 502.
	ErrTransport = errors.New("refresh transport failure")

	// ErrSessionChanged — пока шёл обмен, сессию очистили или заменили;
	// результат отброшен. Транспорт: HTTP 409.
	ErrSessionChanged = errors.New("session changed during refresh")

	// ErrInvalidCredentials — backend отклонил пару логин/пароль. Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAdminCheck — admin-check не удался. Вызывающие считают пользователя
	// не администратором (fail closed). Транспорт: HTTP 403.
	ErrAdminCheck = errors.New("admin check failed")
)

// Backend — вызовы backend, нужные сессии.
// Отказ backend (ответ вне 2xx) должен удовлетворять errors.Is(err, backend.ErrRejected);
// любая другая ошибка считается транспортной.
type Backend interface {
	SignIn(ctx context.Context, identifier, password string) (models.SignInResult, error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
	IsAdmin(ctx context.Context, accessToken string) (bool, error)
}

// Config — политика обработки ошибок обмена.
type Config struct {
	// KeepTokensOnTransportError сохраняет пару, если backend недоступен.
	KeepTokensOnTransportError bool
}

// Service описывает жизненный цикл токенов.
type Service struct {
	store   *tokens.Store
	backend Backend
	cfg     Config
	metrics *metrics.Metrics // может быть nil

	flight singleflight.Group
}

// New создаёт новый экземпляр Service.
func New(store *tokens.Store, backend Backend, cfg Config) *Service {
	return &Service{
		store:   store,
		backend: backend,
		cfg:     cfg,
	}
}

// SetMetrics устанавливает коллекторы метрик (опционально).
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}
