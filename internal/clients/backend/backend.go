// backend — REST-клиент backend маркетплейса в объёме, нужном сессии:
// вход (sign-in), обмен refresh-токена (refresh-token) и admin-check.
//
// Классификация ошибок:
//   - ответ вне 2xx — *StatusError, errors.Is(err, ErrRejected) == true;
//   - сеть/таймаут/некорректное тело ответа — errors.Is(err, ErrTransport) == true.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/estate-session/internal/config"
	"github.com/pribylovaa/estate-session/internal/models"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
)

var (
	// ErrRejected — backend ответил статусом вне 2xx.
	ErrRejected = errors.New("backend rejected request")
	// ErrTransport — запрос не дошёл до backend или ответ не разобран.
	ErrTransport = errors.New("backend transport failure")
)

// StatusError — ответ backend вне 2xx. Message берётся из поля message тела, если оно есть.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend status %d", e.StatusCode)
	}

	return fmt.Sprintf("backend status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool { return target == ErrRejected }

const (
	userAgent    = "estate-web"
	maxErrorBody = 4 << 10
)

type ctxKey struct{}

// WithRequestID кладёт request id входящего запроса в контекст,
// чтобы исходящие вызовы несли тот же X-Request-Id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestIDFrom возвращает request id из контекста ("" если нет).
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Client — REST-клиент backend.
type Client struct {
	base *url.URL
	cfg  config.BackendConfig
	hc   *http.Client
}

// New создаёт клиент. При hc == nil используется http.Client с cfg.Timeout.
func New(cfg config.BackendConfig, hc *http.Client) (*Client, error) {
	const op = "clients.backend.New"

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse base url: %w", op, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%s: unsupported base url scheme %q", op, base.Scheme)
	}

	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{base: base, cfg: cfg, hc: hc}, nil
}

type signInRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type signInResponse struct {
	User         models.User `json:"user"`
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type adminCheckResponse struct {
	IsAdmin bool `json:"isAdmin"`
}

// SignIn выполняет вход по идентификатору (e-mail/телефон) и паролю.
func (c *Client) SignIn(ctx context.Context, identifier, password string) (models.SignInResult, error) {
	const op = "clients.backend.SignIn"

	var resp signInResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.SignInPath, "", signInRequest{
		Identifier: identifier,
		Password:   password,
	}, &resp); err != nil {
		return models.SignInResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if resp.Token == "" || resp.RefreshToken == "" {
		return models.SignInResult{}, fmt.Errorf("%s: %w: incomplete token pair", op, ErrTransport)
	}

	return models.SignInResult{
		User: resp.User,
		Pair: models.TokenPair{AccessToken: resp.Token, RefreshToken: resp.RefreshToken},
	}, nil
}

// Refresh обменивает refresh-токен на новую пару.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "clients.backend.Refresh"

	var resp refreshResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.RefreshPath, "", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if resp.Token == "" || resp.RefreshToken == "" {
		return models.TokenPair{}, fmt.Errorf("%s: %w: incomplete token pair", op, ErrTransport)
	}

	return models.TokenPair{AccessToken: resp.Token, RefreshToken: resp.RefreshToken}, nil
}

// IsAdmin спрашивает backend, является ли владелец access-токена администратором.
func (c *Client) IsAdmin(ctx context.Context, accessToken string) (bool, error) {
	const op = "clients.backend.IsAdmin"

	var resp adminCheckResponse
	if err := c.do(ctx, http.MethodGet, c.cfg.AdminCheckPath, accessToken, nil, &resp); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return resp.IsAdmin, nil
}

// do выполняет JSON-запрос и пишет одну итоговую запись в лог.
// Тело запроса и заголовок Authorization не логируются.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	start := time.Now()

	rid := RequestIDFrom(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}

	lg := log.From(ctx).With(
		slog.String("request_id", rid),
		slog.String("method", method),
		slog.String("path", path),
	)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-Id", rid)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		lg.Warn("backend_call_failed",
			slog.Duration("dur", time.Since(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	lg.Info("backend",
		slog.Int("status", resp.StatusCode),
		slog.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}

	return nil
}

// errorMessage достаёт message (или error) из JSON-тела ошибки; иначе — обрезанный текст.
func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}

	return strings.TrimSpace(string(b))
}
