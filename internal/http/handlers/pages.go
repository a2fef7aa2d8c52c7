package handlers

import (
	"net/http"

	"github.com/pribylovaa/estate-session/internal/gate"
	"github.com/pribylovaa/estate-session/internal/models"
)

// Home — главная. С ?login=1 фронт открывает окно входа и после входа
// возвращает пользователя на next.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	out := models.PageResponse{
		Page:      "home",
		User:      h.currentUser(),
		ShowLogin: q.Get(gate.ParamLogin) == "1" && !h.Session.IsAuthenticated(),
	}
	if next := q.Get(gate.ParamNext); out.ShowLogin && localPath(next) {
		out.Next = next
	}

	writeJSON(w, http.StatusOK, out)
}

// Page возвращает обработчик защищённого экрана. Доступ проверяет gate.Middleware.
func (h *Handlers) Page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.PageResponse{Page: name, User: h.currentUser()})
	}
}
