// session — состояние аутентификации процесса: текущий пользователь,
// вход/выход и предикат IsAuthenticated. Владеет планировщиком обновления токенов.
//
// Жизненный цикл: New → Init (холодный старт из хранилища) → Login/Logout → Close.
// Login и Logout сериализованы: итоговое состояние соответствует последнему вызову.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pribylovaa/estate-session/internal/metrics"
	"github.com/pribylovaa/estate-session/internal/models"
	"github.com/pribylovaa/estate-session/internal/pkg/clock"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
	"github.com/pribylovaa/estate-session/internal/scheduler"
	"github.com/pribylovaa/estate-session/internal/tokens"
)

// Options — параметры планировщика. Нулевые поля получают значения по умолчанию.
type Options struct {
	RefreshInterval time.Duration
	Clock           clock.Clock
	Metrics         *metrics.Metrics
}

// Session — состояние аутентификации.
type Session struct {
	store *tokens.Store
	sched *scheduler.Scheduler

	opMu sync.Mutex // сериализует Init/Login/Logout

	mu   sync.RWMutex
	user *models.User
}

// New создаёт сессию и её планировщик. Пользователь не загружен до Init.
func New(store *tokens.Store, refresher scheduler.Refresher, opts Options) *Session {
	s := &Session{store: store}
	s.sched = scheduler.New(s, store, refresher, scheduler.Options{
		Interval: opts.RefreshInterval,
		Clock:    opts.Clock,
		Metrics:  opts.Metrics,
	})
	opts.Metrics.ObserveAuthenticated(s.IsAuthenticated)

	return s
}

// Init загружает токены и запись пользователя из хранилища и, если сессия
// аутентифицирована, запускает планировщик.
func (s *Session) Init(ctx context.Context) error {
	const op = "session.Init"

	s.opMu.Lock()
	defer s.opMu.Unlock()

	lg := log.From(ctx)

	if err := s.store.Load(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	u, ok := s.store.User()
	s.mu.Lock()
	if ok {
		s.user = &u
	} else {
		s.user = nil
	}
	s.mu.Unlock()

	authenticated := s.IsAuthenticated()
	if authenticated {
		s.sched.Start(ctx)
	}

	lg.Info("session_restored",
		slog.String("op", op),
		slog.Bool("has_user", ok),
		slog.Bool("has_tokens", !s.store.Pair().Empty()),
		slog.Bool("authenticated", authenticated),
	)

	return nil
}

// Login делает пользователя текущим, сохраняет его запись и запускает планировщик.
// Вызывается после любого успешного получения пары токенов.
// Ошибка сохранения записи логируется: в памяти вход всё равно состоялся.
func (s *Session) Login(ctx context.Context, u models.User) {
	const op = "session.Login"

	s.opMu.Lock()
	defer s.opMu.Unlock()

	lg := log.From(ctx)

	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()

	if err := s.store.SetUser(ctx, u); err != nil {
		lg.Error("session_user_persist_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}

	s.sched.Start(ctx)

	lg.Info("session_login", slog.String("op", op), slog.String("user_id", u.ID))
}

// Logout останавливает планировщик, очищает токены и запись пользователя.
// Сети не касается и никогда не завершается ошибкой: сбои хранилища только логируются.
func (s *Session) Logout(ctx context.Context) {
	const op = "session.Logout"

	s.opMu.Lock()
	defer s.opMu.Unlock()

	lg := log.From(ctx)

	s.sched.Stop()

	if err := s.store.Clear(ctx); err != nil {
		lg.Error("session_tokens_clear_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
	if err := s.store.ClearUser(ctx); err != nil {
		lg.Error("session_user_clear_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}

	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()

	lg.Info("session_logout", slog.String("op", op))
}

// IsAuthenticated: пользователь загружен И access-токен есть и не истёк.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	hasUser := s.user != nil
	s.mu.RUnlock()

	return hasUser && s.store.IsAuthenticated()
}

// User возвращает текущего пользователя.
func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return models.User{}, false
	}

	return *s.user, true
}

// SchedulerRunning сообщает, активно ли фоновое обновление.
func (s *Session) SchedulerRunning() bool { return s.sched.Running() }

// Close останавливает планировщик. Токены и пользователь остаются в хранилище.
func (s *Session) Close() {
	s.sched.Stop()
}
