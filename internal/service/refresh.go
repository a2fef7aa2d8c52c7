package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/estate-session/internal/clients/backend"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
	"github.com/pribylovaa/estate-session/internal/pkg/redact"
)

// Результаты обмена для метрик.
const (
	refreshOK             = "ok"
	refreshNoToken        = "no_refresh_token"
	refreshRejected       = "rejected"
	refreshTransport      = "transport"
	refreshSessionChanged = "session_changed"
	refreshStorage        = "storage"
)

// Refresh обменивает сохранённый refresh-токен на новую пару и возвращает новый access-токен.
//
// Сам обмен не отменяется вместе с ctx вызывающего: другой участник singleflight
// может ждать того же результата. Отмена ctx лишь освобождает этого вызывающего.
func (s *Service) Refresh(ctx context.Context) (string, error) {
	const op = "service.refresh.Refresh"

	sent := s.store.RefreshToken()
	if sent == "" {
		s.metrics.Refresh(refreshNoToken, -1)
		log.From(ctx).Debug("refresh_skipped_no_token", slog.String("op", op))
		return "", fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
	}

	ch := s.flight.DoChan(sent, func() (any, error) {
		return s.exchange(context.WithoutCancel(ctx), sent)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			log.From(ctx).Debug("refresh_shared", slog.String("op", op))
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// exchange выполняет один обмен и применяет результат к хранилищу.
func (s *Service) exchange(ctx context.Context, sent string) (string, error) {
	const op = "service.refresh.exchange"

	// Логи backend-клиента внутри обмена тоже несут редактированный refresh.
	ctx, lg := log.With(ctx, slog.String("refresh", redact.Token(sent)))
	lg = lg.With(slog.String("op", op))

	start := time.Now()
	pair, err := s.backend.Refresh(ctx, sent)
	dur := time.Since(start)

	if err != nil {
		kind, result := ErrTransport, refreshTransport
		if errors.Is(err, backend.ErrRejected) {
			kind, result = ErrRefreshRejected, refreshRejected
		}

		cleared := false
		if kind == ErrRefreshRejected || !s.cfg.KeepTokensOnTransportError {
			// Очищаем только «свою» сессию: новую (после повторного входа) не трогаем.
			ok, cerr := s.store.ClearIf(ctx, sent)
			if cerr != nil {
				lg.Error("refresh_clear_failed", slog.String("err", cerr.Error()))
			}
			cleared = ok
		}

		s.metrics.Refresh(result, dur.Seconds())
		lg.Warn("refresh_failed",
			slog.String("kind", result),
			slog.Bool("tokens_cleared", cleared),
			slog.Duration("dur", dur),
			slog.String("err", err.Error()),
		)

		return "", fmt.Errorf("%s: %w: %w", op, kind, err)
	}

	ok, err := s.store.Rotate(ctx, sent, pair)
	if err != nil {
		s.metrics.Refresh(refreshStorage, dur.Seconds())
		lg.Error("refresh_store_failed", slog.String("err", err.Error()))
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.metrics.Refresh(refreshSessionChanged, dur.Seconds())
		lg.Info("refresh_result_discarded")
		return "", fmt.Errorf("%s: %w", op, ErrSessionChanged)
	}

	s.metrics.Refresh(refreshOK, dur.Seconds())
	lg.Info("token_refreshed",
		slog.String("new_refresh", redact.Token(pair.RefreshToken)),
		slog.Duration("dur", dur),
	)

	return pair.AccessToken, nil
}
