package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/estate-session/internal/errors"
	"github.com/pribylovaa/estate-session/internal/models"
)

// Login выполняет вход и делает пользователя текущим.
// Параметр ?next= (из редиректа гейта) возвращается в redirect_to.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in models.LoginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	u, err := h.Auth.SignIn(r.Context(), in.Identifier, in.Password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.Session.Login(r.Context(), u)

	redirect := h.HomePath
	if next := r.URL.Query().Get("next"); localPath(next) {
		redirect = next
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{User: u, RedirectTo: redirect})
}

// Logout всегда успешен: сети не касается.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.Session.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// GetSession сообщает, аутентифицирован ли процесс, и текущего пользователя.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	u := h.currentUser()
	writeJSON(w, http.StatusOK, models.SessionResponse{Authenticated: u != nil, User: u})
}

// Refresh — явный обмен refresh-токена по запросу пользователя.
// Токены в ответ не попадают.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Auth.Refresh(r.Context()); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
