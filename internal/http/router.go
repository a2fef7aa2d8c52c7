package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/estate-session/internal/gate"
	"github.com/pribylovaa/estate-session/internal/http/handlers"
	"github.com/pribylovaa/estate-session/internal/http/middleware"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger      *slog.Logger
	Timeout     time.Duration
	AdminPrefix string // по умолчанию "/admin"
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(h *handlers.Handlers, g *gate.Gate, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
	}

	adminPrefix := opts.AdminPrefix
	if adminPrefix == "" {
		adminPrefix = "/admin"
	}

	registerRoutes(root, h, g, adminPrefix)
	return root
}

// registerRoutes — единая точка регистрации всех эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, g *gate.Gate, adminPrefix string) {
	// auth
	r.Post("/auth/login", h.Login)
	r.Post("/auth/logout", h.Logout)
	r.Post("/auth/refresh", h.Refresh)
	r.Get("/auth/session", h.GetSession)

	// pages
	r.Get("/", h.Home)

	r.Group(func(r chi.Router) {
		r.Use(g.Middleware)

		r.Get("/dashboard", h.Page("dashboard"))
		r.Get("/dashboard/*", h.Page("dashboard"))
		r.Get(adminPrefix, h.Page("admin"))
		r.Get(adminPrefix+"/*", h.Page("admin"))
	})
}
