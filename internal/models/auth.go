package models

// LoginRequest — тело POST /auth/login. Identifier — e-mail или телефон.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginResponse — ответ на успешный вход.
// RedirectTo — страница, с которой пользователя отправили на вход (параметр next).
type LoginResponse struct {
	User       User   `json:"user"`
	RedirectTo string `json:"redirect_to"`
}

// SessionResponse — состояние сессии для GET /auth/session.
type SessionResponse struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user,omitempty"`
}

// PageResponse — заглушка экрана: вёрстка страниц вне этого процесса.
type PageResponse struct {
	Page      string `json:"page"`
	User      *User  `json:"user,omitempty"`
	ShowLogin bool   `json:"show_login,omitempty"`
	Next      string `json:"next,omitempty"`
}
