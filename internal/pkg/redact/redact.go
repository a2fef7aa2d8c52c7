// redact предоставляет утилиты безопасного редактирования чувствительных
// данных для логов (e-mail, токены). Токены сессии в логи не попадают никогда:
// наружу уходит только факт наличия и короткий отпечаток для корреляции.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Email маскирует e-mail для логирования.
//
// Правила:
//   - строка должна содержать ровно один '@', иначе возвращается "***";
//   - локальная часть заменяется на первые два символа (по рунам) + "***";
//   - если локальная часть не длиннее двух символов, возвращается "***@<domain>".
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Token возвращает безопасное представление токена:
// "[EMPTY]" для пустой строки, иначе "[REDACTED_TOKEN:<8 hex sha256>]".
// Отпечаток позволяет сопоставить записи про один и тот же токен, не раскрывая его.
func Token(tok string) string {
	if tok == "" {
		return "[EMPTY]"
	}

	sum := sha256.Sum256([]byte(tok))
	return "[REDACTED_TOKEN:" + hex.EncodeToString(sum[:4]) + "]"
}

// Password возвращает литерал-заглушку для пароля в логах.
func Password() string { return "[REDACTED_PASSWORD]" }
