package auth

import (
	"fmt"
	"net/http"
)

// Заголовок с идентификатором пользователя, который проставляет шлюз
// после проверки токена. Сам сервис токены не разбирает.
const userIDHeader = "X-User-Id"

// VerifyToken возвращает идентификатор пользователя из запроса
func VerifyToken(r *http.Request) (string, error) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		return "", fmt.Errorf("no %s header", userIDHeader)
	}

	return userID, nil
}
