package models

// User — профиль пользователя, который держит клиентская сессия.
// Признак администратора в запись не входит: он приходит отдельным admin-check запросом.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// SignInResult - ответ backend на успешный вход.
type SignInResult struct {
	User User
	Pair TokenPair
}
