package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pribylovaa/estate-session/internal/clients/backend"
	"github.com/pribylovaa/estate-session/internal/models"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
	"github.com/pribylovaa/estate-session/internal/pkg/redact"
)

// SignIn выполняет вход и сохраняет выданную пару токенов.
// Запись пользователя возвращается вызывающему: её фиксирует session.Login.
// Отказ backend с кодом 4xx — ErrInvalidCredentials; сообщение backend
// остаётся в цепочке ошибок (*backend.StatusError).
func (s *Service) SignIn(ctx context.Context, identifier, password string) (models.User, error) {
	const op = "service.auth.SignIn"

	lg := log.From(ctx).With(
		slog.String("op", op),
		slog.String("identifier", redactIdentifier(identifier)),
	)

	if strings.TrimSpace(identifier) == "" || password == "" {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	res, err := s.backend.SignIn(ctx, identifier, password)
	if err != nil {
		var se *backend.StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			lg.Info("sign_in_rejected", slog.Int("status", se.StatusCode))
			return models.User{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidCredentials, err)
		}

		lg.Warn("sign_in_failed", slog.String("err", err.Error()))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.Set(ctx, res.Pair.AccessToken, res.Pair.RefreshToken); err != nil {
		lg.Error("sign_in_store_failed", slog.String("err", err.Error()))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("signed_in", slog.String("user_id", res.User.ID))

	return res.User, nil
}

// IsAdmin выполняет admin-check с текущим access-токеном.
// Любая ошибка — ErrAdminCheck; токены при этом не трогаются.
func (s *Service) IsAdmin(ctx context.Context) (bool, error) {
	const op = "service.auth.IsAdmin"

	lg := log.From(ctx)

	access := s.store.AccessToken()
	if access == "" {
		s.metrics.AdminCheck("error")
		return false, fmt.Errorf("%s: %w: no access token", op, ErrAdminCheck)
	}

	ok, err := s.backend.IsAdmin(ctx, access)
	if err != nil {
		s.metrics.AdminCheck("error")
		lg.Warn("admin_check_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return false, fmt.Errorf("%s: %w: %w", op, ErrAdminCheck, err)
	}

	if ok {
		s.metrics.AdminCheck("admin")
	} else {
		s.metrics.AdminCheck("not_admin")
	}

	return ok, nil
}

// redactIdentifier маскирует e-mail; прочие идентификаторы (телефон) обрезает.
func redactIdentifier(id string) string {
	if strings.Contains(id, "@") {
		return redact.Email(id)
	}

	r := []rune(id)
	if len(r) <= 4 {
		return "***"
	}

	return "***" + string(r[len(r)-4:])
}
