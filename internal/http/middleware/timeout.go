package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/estate-session/internal/errors"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
)

// Timeout ограничивает обработку запроса вместе с походами в backend.
// Уже заданный дедлайн не продлевается. Если обработчик вернулся после
// истечения дедлайна, так ничего и не ответив, клиент получает 504
// в общем JSON-формате ошибок. Значение <=0 делает мидлвар no-op.
func Timeout(d time.Duration) Middleware {
	const op = "middleware.Timeout"

	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := ctx.Deadline(); !ok {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
				r = r.WithContext(ctx)
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			if sw.written() || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}

			log.From(ctx).Warn("request_deadline_exceeded",
				slog.String("op", op),
				slog.String("path", r.URL.Path),
			)
			apierrors.WriteError(sw, r, ctx.Err())
		})
	}
}
