package rest

import (
	"strconv"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

const wonSuffix = "원"

// BrandRequest — тело создания и переименования бренда.
type BrandRequest struct {
	Name string `json:"name"`
}

// ProductRequest — тело создания товара и изменения цены.
// Category обязательна только при создании.
type ProductRequest struct {
	Category string `json:"category"`
	Price    *int64 `json:"price"`
}

// BrandResponse — бренд в ответе API.
type BrandResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// ProductResponse — товар в ответе API.
type ProductResponse struct {
	ID           int64  `json:"id"`
	BrandID      int64  `json:"brandId"`
	Brand        string `json:"brand"`
	Category     string `json:"category"`
	CategoryCode string `json:"categoryCode"`
	Price        int64  `json:"price"`
	Version      int64  `json:"version"`
}

// CategoryBrandPrice — цена бренда в категории.
type CategoryBrandPrice struct {
	Category            string `json:"category"`
	CategoryDisplayName string `json:"categoryDisplayName"`
	BrandName           string `json:"brandName"`
	Price               int64  `json:"price"`
	FormattedPrice      string `json:"formattedPrice"`
}

// LowestPriceResponse — минимальные цены по всем категориям.
type LowestPriceResponse struct {
	Categories          []CategoryBrandPrice `json:"categories"`
	TotalPrice          int64                `json:"totalPrice"`
	FormattedTotalPrice string               `json:"formattedTotalPrice"`
}

// CategoryPriceResponse — все бренды с минимальной и максимальной ценой категории.
type CategoryPriceResponse struct {
	Category string       `json:"category"`
	Min      []BrandPrice `json:"min"`
	Max      []BrandPrice `json:"max"`
}

// BrandPrice — бренд и его цена в категории.
type BrandPrice struct {
	Brand          string `json:"brand"`
	Price          int64  `json:"price"`
	FormattedPrice string `json:"formattedPrice"`
}

// Item — товар комплекта одного бренда.
type Item struct {
	Category       string `json:"category"`
	Price          int64  `json:"price"`
	FormattedPrice string `json:"formattedPrice"`
}

// SingleBrandResponse — комплект одного бренда и его стоимость.
type SingleBrandResponse struct {
	Brand               string `json:"brand"`
	Items               []Item `json:"items"`
	TotalPrice          int64  `json:"totalPrice"`
	FormattedTotalPrice string `json:"formattedTotalPrice"`
}

func toBrandResponse(brand domain.Brand) BrandResponse {
	return BrandResponse{ID: brand.ID, Name: brand.Name, Version: brand.Version}
}

func toBrandResponses(brands []domain.Brand) []BrandResponse {
	out := make([]BrandResponse, 0, len(brands))
	for _, brand := range brands {
		out = append(out, toBrandResponse(brand))
	}
	return out
}

func toProductResponse(product domain.Product) ProductResponse {
	return ProductResponse{
		ID:           product.ID,
		BrandID:      product.BrandID,
		Brand:        product.BrandName,
		Category:     product.Category.DisplayName(),
		CategoryCode: string(product.Category),
		Price:        product.Price,
		Version:      product.Version,
	}
}

func toProductResponses(products []domain.Product) []ProductResponse {
	out := make([]ProductResponse, 0, len(products))
	for _, product := range products {
		out = append(out, toProductResponse(product))
	}
	return out
}

func toLowestPriceResponse(table domain.LowestPriceTable) LowestPriceResponse {
	categories := make([]CategoryBrandPrice, 0, len(table.Rows))
	for _, row := range table.Rows {
		categories = append(categories, CategoryBrandPrice{
			Category:            string(row.Category),
			CategoryDisplayName: row.Category.DisplayName(),
			BrandName:           row.BrandName,
			Price:               row.Price,
			FormattedPrice:      formatPrice(row.Price),
		})
	}
	return LowestPriceResponse{
		Categories:          categories,
		TotalPrice:          table.Total,
		FormattedTotalPrice: formatPrice(table.Total),
	}
}

func toBrandPrices(prices []domain.CategoryPrice) []BrandPrice {
	out := make([]BrandPrice, 0, len(prices))
	for _, price := range prices {
		out = append(out, BrandPrice{
			Brand:          price.BrandName,
			Price:          price.Price,
			FormattedPrice: formatPrice(price.Price),
		})
	}
	return out
}

func toSingleBrandResponse(total domain.BrandTotal) SingleBrandResponse {
	items := make([]Item, 0, len(total.Items))
	for _, item := range total.Items {
		items = append(items, Item{
			Category:       item.Category.DisplayName(),
			Price:          item.Price,
			FormattedPrice: formatWon(item.Price),
		})
	}
	return SingleBrandResponse{
		Brand:               total.BrandName,
		Items:               items,
		TotalPrice:          total.Total,
		FormattedTotalPrice: formatWon(total.Total),
	}
}

// formatPrice форматирует цену с разделителем тысяч: 10000 → "10,000".
func formatPrice(price int64) string {
	digits := strconv.FormatInt(price, 10)
	sign := ""
	if price < 0 {
		sign, digits = "-", digits[1:]
	}
	if len(digits) <= 3 {
		return sign + digits
	}

	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	out := make([]byte, 0, len(digits)+len(digits)/3)
	out = append(out, digits[:head]...)
	for i := head; i < len(digits); i += 3 {
		out = append(out, ',')
		out = append(out, digits[i:i+3]...)
	}
	return sign + string(out)
}

func formatWon(price int64) string {
	return formatPrice(price) + wonSuffix
}
