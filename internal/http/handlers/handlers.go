package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pribylovaa/estate-session/internal/models"
)

// Authenticator — вход и явный обмен refresh-токена.
type Authenticator interface {
	SignIn(ctx context.Context, identifier, password string) (models.User, error)
	Refresh(ctx context.Context) (string, error)
}

// Session — состояние аутентификации процесса.
type Session interface {
	Login(ctx context.Context, u models.User)
	Logout(ctx context.Context)
	IsAuthenticated() bool
	User() (models.User, bool)
}

// Handlers агрегирует зависимости.
type Handlers struct {
	Auth     Authenticator
	Session  Session
	HomePath string
}

func New(auth Authenticator, sess Session, homePath string) *Handlers {
	if homePath == "" {
		homePath = "/"
	}
	return &Handlers{Auth: auth, Session: sess, HomePath: homePath}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// localPath пропускает только локальные пути, иначе next стал бы открытым редиректом.
func localPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, `\`)
}

func (h *Handlers) currentUser() *models.User {
	if !h.Session.IsAuthenticated() {
		return nil
	}
	u, ok := h.Session.User()
	if !ok {
		return nil
	}
	return &u
}
