package domain

import "errors"

var (
	// ErrBrandNotFound возвращается, если бренд не найден.
	ErrBrandNotFound = errors.New("brand not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// Ошибка пустого имени бренда.
	ErrBrandNameRequired = errors.New("brand name is required")
	// Ошибка отрицательной цены товара.
	ErrPriceNegative = errors.New("price must be non-negative")
	// Ошибка отсутствующей категории.
	ErrCategoryRequired = errors.New("category is required")
	// Ошибка неизвестной категории.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrDuplicateBrandName — имя бренда уже занято другим брендом.
	ErrDuplicateBrandName = errors.New("brand name already exists")
	// ErrDuplicateBrandCategory — у бренда уже есть товар в этой категории.
	// Проверка выполняется до вставки и не защищена ограничением в БД.
	ErrDuplicateBrandCategory = errors.New("product already exists for this brand and category")
	// ErrBrandVersionConflict сигнализирует о конфликте версий бренда.
	ErrBrandVersionConflict = errors.New("brand version conflict")
	// ErrProductVersionConflict сигнализирует о конфликте версий товара.
	ErrProductVersionConflict = errors.New("product version conflict")
	// ErrNoQualifyingBrand — ни один бренд не покрывает все категории.
	ErrNoQualifyingBrand = errors.New("no brand has products in every category")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — записи для ключа нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyFinished — ответ для ключа уже сохранён.
	ErrIdempotencyKeyFinished = errors.New("idempotency key already has a stored response")
)

// IsNotFound проверяет, что сущность отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBrandNotFound) || errors.Is(err, ErrProductNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrBrandVersionConflict) || errors.Is(err, ErrProductVersionConflict)
}

// IsDuplicateName проверяет коллизию имени бренда.
func IsDuplicateName(err error) bool {
	return errors.Is(err, ErrDuplicateBrandName)
}

// IsDuplicateBrandCategory проверяет повторный товар бренда в категории.
func IsDuplicateBrandCategory(err error) bool {
	return errors.Is(err, ErrDuplicateBrandCategory)
}

// IsInvalidInput проверяет ошибки валидации входных данных.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrBrandNameRequired) ||
		errors.Is(err, ErrPriceNegative) ||
		errors.Is(err, ErrCategoryRequired) ||
		errors.Is(err, ErrInvalidCategory)
}

// IsNoQualifyingBrand проверяет отсутствие бренда с полным набором категорий.
func IsNoQualifyingBrand(err error) bool {
	return errors.Is(err, ErrNoQualifyingBrand)
}

// IsIdempotencyConflict проверяет конфликт ключа идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
