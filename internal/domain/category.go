package domain

import (
	"fmt"
	"strings"
)

// Category — одна из восьми фиксированных категорий товара.
// Значение хранится и передаётся по машинному имени (TOP, OUTER, ...).
type Category string

const (
	CategoryTop       Category = "TOP"
	CategoryOuter     Category = "OUTER"
	CategoryPants     Category = "PANTS"
	CategorySneakers  Category = "SNEAKERS"
	CategoryBag       Category = "BAG"
	CategoryHat       Category = "HAT"
	CategorySocks     Category = "SOCKS"
	CategoryAccessory Category = "ACCESSORY"
)

// CategoryCount — число категорий, которое должен покрыть бренд для полного комплекта.
const CategoryCount = 8

var categoryOrder = [CategoryCount]Category{
	CategoryTop,
	CategoryOuter,
	CategoryPants,
	CategorySneakers,
	CategoryBag,
	CategoryHat,
	CategorySocks,
	CategoryAccessory,
}

var categoryDisplayNames = map[Category]string{
	CategoryTop:       "상의",
	CategoryOuter:     "아우터",
	CategoryPants:     "바지",
	CategorySneakers:  "스니커즈",
	CategoryBag:       "가방",
	CategoryHat:       "모자",
	CategorySocks:     "양말",
	CategoryAccessory: "액세서리",
}

// Categories возвращает все категории в порядке объявления.
func Categories() []Category {
	out := make([]Category, CategoryCount)
	copy(out, categoryOrder[:])
	return out
}

// Valid проверяет, что категория входит в фиксированный набор.
func (c Category) Valid() bool {
	_, ok := categoryDisplayNames[c]
	return ok
}

// DisplayName возвращает локализованное имя категории (например, "상의").
func (c Category) DisplayName() string {
	return categoryDisplayNames[c]
}

// Index возвращает позицию категории в порядке объявления или -1.
func (c Category) Index() int {
	for i, candidate := range categoryOrder {
		if candidate == c {
			return i
		}
	}
	return -1
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory ищет категорию по машинному имени (без учёта регистра)
// или по отображаемому имени.
func ParseCategory(raw string) (Category, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", ErrCategoryRequired
	}

	if c := Category(strings.ToUpper(value)); c.Valid() {
		return c, nil
	}
	for _, c := range categoryOrder {
		if categoryDisplayNames[c] == value {
			return c, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}
