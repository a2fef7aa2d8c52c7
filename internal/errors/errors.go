// errors стандартизирует ответы об ошибках HTTP-слоя estate-web.
// На вход он принимает ошибку сервисного слоя (сентинелы service/backend),
// а на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки деталей.
//
// Единственное исключение — отказ во входе: сообщение backend
// (*backend.StatusError) показывается пользователю как есть.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/pribylovaa/estate-session/internal/clients/backend"
	"github.com/pribylovaa/estate-session/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// ErrInvalidArgument — локальная ошибка разбора запроса.
var ErrInvalidArgument = stderrors.New("invalid argument")

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует ошибку сервисного слоя в HTTP-статус и ответ для фронта.
//
// Поведение:
//   - err == nil - программная ошибка вызова: 500/internal;
//   - известные сентинелы маппятся через base();
//   - прочее - 500/internal (без утечки деталей).
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusInternalServerError, ErrorResponse{
			Error: APIError{
				Code:    "internal",
				Message: "internal error",
			},
		}
	}

	httpStatus, code, msg := base(err)

	if stderrors.Is(err, service.ErrInvalidCredentials) {
		var se *backend.StatusError
		if stderrors.As(err, &se) && se.Message != "" {
			msg = se.Message
		}
	}

	return httpStatus, ErrorResponse{
		Error: APIError{
			Code:    code,
			Message: msg,
		},
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	// Прокидываем request_id для фронта, чтобы он мог репортить баги с привязкой.
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// base — базовый маппинг ошибка -> HTTP/FE-код/сообщение:
//   - ErrInvalidArgument -> 400
//   - ErrInvalidCredentials -> 401 (сообщение backend, если есть)
//   - ErrNoRefreshToken, ErrRefreshRejected -> 401 (нужен повторный вход)
//   - ErrAdminCheck -> 403
//   - ErrSessionChanged -> 409
//   - ErrTransport, backend.ErrTransport -> 502 (backend недоступен)
//   - прочие отказы backend -> 502
//   - context.Canceled -> 499, context.DeadlineExceeded -> 504
//   - прочее -> 500/internal
//
// Порядок важен: сервисные сентинелы оборачивают ошибки backend.
func base(err error) (int, string, string) {
	switch {
	case stderrors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument", "invalid argument"
	case stderrors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid credentials"
	case stderrors.Is(err, service.ErrNoRefreshToken):
		return http.StatusUnauthorized, "unauthenticated", "unauthenticated"
	case stderrors.Is(err, service.ErrRefreshRejected):
		return http.StatusUnauthorized, "session_expired", "session expired"
	case stderrors.Is(err, service.ErrAdminCheck):
		return http.StatusForbidden, "permission_denied", "permission denied"
	case stderrors.Is(err, service.ErrSessionChanged):
		return http.StatusConflict, "session_changed", "session changed"
	case stderrors.Is(err, service.ErrTransport), stderrors.Is(err, backend.ErrTransport):
		return http.StatusBadGateway, "backend_unavailable", "backend unavailable"
	case stderrors.Is(err, backend.ErrRejected):
		return http.StatusBadGateway, "backend_error", "backend error"
	case stderrors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "canceled"
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
