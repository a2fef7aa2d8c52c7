// scheduler — фоновое проактивное обновление токенов, пока пользователь в системе.
//
// Start сразу выполняет один проход «проверить и при необходимости обновить»,
// затем повторяет его раз в интервал (по умолчанию 30 минут). Проход, увидевший
// неаутентифицированную сессию, останавливает планировщик сам. Одновременно активна
// не более одной задачи: Start останавливает предыдущую до запуска новой.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pribylovaa/estate-session/internal/metrics"
	"github.com/pribylovaa/estate-session/internal/pkg/clock"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
)

// DefaultInterval — период проходов по умолчанию.
const DefaultInterval = 30 * time.Minute

// Исходы прохода для метрик.
const (
	passSkipped   = "skipped"
	passRefreshed = "refreshed"
	passFailed    = "failed"
	passStopped   = "stopped"
)

// Authenticator сообщает, есть ли аутентифицированный пользователь.
type Authenticator interface {
	IsAuthenticated() bool
}

// ExpiryChecker сообщает, что access-токен скоро истечёт.
type ExpiryChecker interface {
	IsExpiringSoon() bool
}

// Refresher выполняет обмен refresh-токена.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Options — необязательные параметры. Нулевые поля получают значения по умолчанию.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Metrics  *metrics.Metrics
}

// Scheduler владеет не более чем одной периодической задачей.
type Scheduler struct {
	auth      Authenticator
	expiry    ExpiryChecker
	refresher Refresher
	interval  time.Duration
	clk       clock.Clock
	metrics   *metrics.Metrics

	mu   sync.Mutex
	task *task
}

type task struct {
	cancel context.CancelFunc
	ticker *clock.Ticker
	lg     *slog.Logger
}

func (t *task) stop() {
	t.cancel()
	t.ticker.Stop()
}

// New создаёт остановленный планировщик.
func New(auth Authenticator, expiry ExpiryChecker, refresher Refresher, opts Options) *Scheduler {
	s := &Scheduler{
		auth:      auth,
		expiry:    expiry,
		refresher: refresher,
		interval:  opts.Interval,
		clk:       opts.Clock,
		metrics:   opts.Metrics,
	}

	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.clk == nil {
		s.clk = clock.Real()
	}

	return s
}

// Start останавливает текущую задачу (если есть) и запускает новую.
// Тикер взводится синхронно, проходы идут в фоновой горутине: вызывающий не блокируется.
// Задача наследует значения ctx (логгер), но не его отмену: остановить её можно только через Stop.
func (s *Scheduler) Start(ctx context.Context) {
	const op = "scheduler.Start"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task != nil {
		s.task.stop()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{cancel: cancel, ticker: s.clk.NewTicker(s.interval), lg: log.From(ctx)}
	s.task = t

	t.lg.Info("scheduler_start",
		slog.String("op", op),
		slog.Duration("interval", s.interval),
	)

	go s.run(runCtx, t)
}

// Stop отменяет задачу. Безопасен при уже остановленном планировщике.
// Новые проходы после возврата из Stop не начинаются; уже идущий обмен завершится сам.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	t := s.task
	s.task = nil
	s.mu.Unlock()

	if t == nil {
		return
	}

	t.stop()
	t.lg.Info("scheduler_stop", slog.String("op", "scheduler.Stop"))
}

// Running сообщает, есть ли активная задача.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task != nil
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	if !s.pass(ctx, t) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.ticker.C:
			if !s.pass(ctx, t) {
				return
			}
		}
	}
}

// pass — один проход. Возвращает false, если задача завершена.
func (s *Scheduler) pass(ctx context.Context, t *task) bool {
	const op = "scheduler.pass"

	if ctx.Err() != nil {
		return false
	}

	lg := log.From(ctx)

	if !s.auth.IsAuthenticated() {
		s.deactivate(t)
		s.metrics.SchedulerPass(passStopped)
		lg.Info("scheduler_self_stop", slog.String("op", op))
		return false
	}

	if !s.expiry.IsExpiringSoon() {
		s.metrics.SchedulerPass(passSkipped)
		return true
	}

	// Stop мог прийти во время проверок выше: после его возврата обмен не начинаем.
	if ctx.Err() != nil {
		return false
	}

	if _, err := s.refresher.Refresh(ctx); err != nil {
		// Ошибка не разлогинивает: следующий запрос с протухшим токеном
		// получит 401, и его обработает HTTP-слой.
		s.metrics.SchedulerPass(passFailed)
		lg.Warn("scheduler_refresh_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return ctx.Err() == nil
	}

	s.metrics.SchedulerPass(passRefreshed)
	lg.Debug("scheduler_refreshed", slog.String("op", op))

	return true
}

// deactivate останавливает t и снимает её, только если она всё ещё текущая:
// Start мог уже заменить её новой задачей.
func (s *Scheduler) deactivate(t *task) {
	s.mu.Lock()
	if s.task == t {
		s.task = nil
	}
	s.mu.Unlock()

	t.stop()
}
