package models

// TokenPair — пара токенов клиентской сессии.
//
// Описание:
//   - AccessToken — короткоживущий JWT для авторизации запросов к API;
//   - RefreshToken — долгоживущий секрет, используется только для выпуска новой пары.
//
// Обе части всегда устанавливаются и очищаются вместе: каждое обновление
// заменяет пару целиком (ротация), старый refresh-токен после этого недействителен.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Empty сообщает, что в паре нет ни одного токена.
func (p TokenPair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}
