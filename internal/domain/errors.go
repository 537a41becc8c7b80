package domain

import "errors"

// Бизнес-ошибки леджера. Всё остальное считается инфраструктурной
// ошибкой и пробрасывается наверх без изменений.
var (
	// ErrUserNotFound — аккаунт квоты не существует; мутация не начиналась
	ErrUserNotFound = errors.New("quota account not found")

	// ErrHardCapExceeded — операция вывела бы использование за жесткий порог.
	// Транзакция откатывается целиком, повтор после освобождения места безопасен.
	ErrHardCapExceeded = errors.New("hard cap exceeded")

	// ErrValidation — некорректные входные данные (пустой пользователь или ключ)
	ErrValidation = errors.New("validation failed")
)
