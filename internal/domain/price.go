package domain

// PriceRow — строка снимка цен: товар вместе с именем бренда.
type PriceRow struct {
	ProductID int64
	BrandID   int64
	BrandName string
	Category  Category
	Price     int64
}

// CategoryPrice — цена бренда в категории.
type CategoryPrice struct {
	Category  Category `json:"category"`
	BrandID   int64    `json:"brand_id"`
	BrandName string   `json:"brand_name"`
	Price     int64    `json:"price"`
}

// LowestPriceTable — минимальные цены по всем категориям и их сумма.
type LowestPriceTable struct {
	Rows  []CategoryPrice `json:"rows"`
	Total int64           `json:"total"`
}

// BrandTotal — стоимость полного комплекта одного бренда.
// Items содержит самый дешёвый товар бренда в каждой категории.
type BrandTotal struct {
	BrandID   int64           `json:"brand_id"`
	BrandName string          `json:"brand_name"`
	Items     []CategoryPrice `json:"items"`
	Total     int64           `json:"total"`
}
