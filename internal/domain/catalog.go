package domain

import "strings"

// Brand — бренд каталога. Товары бренда не хранятся внутри структуры:
// они выбираются запросом по brand_id.
type Brand struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// Product — товар бренда в одной из категорий.
type Product struct {
	ID      int64 `json:"id"`
	BrandID int64 `json:"brand_id"`
	// BrandName заполняется репозиторием при чтении и не хранится в товаре.
	BrandName string   `json:"brand_name"`
	Category  Category `json:"category"`
	Price     int64    `json:"price"`
	Version   int64    `json:"version"`
}

// NormalizeBrandName обрезает пробелы и проверяет, что имя не пустое.
func NormalizeBrandName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrBrandNameRequired
	}
	return name, nil
}

// ValidatePrice проверяет, что цена неотрицательна.
func ValidatePrice(price int64) error {
	if price < 0 {
		return ErrPriceNegative
	}
	return nil
}
