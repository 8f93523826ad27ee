package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// Catalog — общее in-memory хранилище брендов и товаров.
// Бренд и товар хранятся независимыми записями, товар ссылается на бренд по id.
// Мьютекс эмулирует атомарность транзакции: проверка версии и запись
// выполняются под одной блокировкой.
type Catalog struct {
	mu            sync.RWMutex
	brands        map[int64]domain.Brand
	products      map[int64]domain.Product
	nextBrandID   int64
	nextProductID int64
}

// NewCatalog создаёт пустое хранилище каталога.
func NewCatalog() *Catalog {
	return &Catalog{
		brands:   make(map[int64]domain.Brand),
		products: make(map[int64]domain.Product),
	}
}

// brandByNameLocked ищет бренд по имени; вызывается под блокировкой.
func (c *Catalog) brandByNameLocked(name string) (domain.Brand, bool) {
	for _, brand := range c.brands {
		if brand.Name == name {
			return brand, true
		}
	}
	return domain.Brand{}, false
}

// withBrandNameLocked дополняет товар именем бренда; вызывается под блокировкой.
func (c *Catalog) withBrandNameLocked(product domain.Product) domain.Product {
	product.BrandName = c.brands[product.BrandID].Name
	return product
}

// snapshotLocked возвращает снимок строк цен для агрегатора; вызывается под блокировкой.
func (c *Catalog) snapshotLocked() []domain.PriceRow {
	rows := make([]domain.PriceRow, 0, len(c.products))
	for _, product := range c.products {
		rows = append(rows, domain.PriceRow{
			ProductID: product.ID,
			BrandID:   product.BrandID,
			BrandName: c.brands[product.BrandID].Name,
			Category:  product.Category,
			Price:     product.Price,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductID < rows[j].ProductID })
	return rows
}

func sortProducts(products []domain.Product) {
	sort.Slice(products, func(i, j int) bool {
		ci, cj := products[i].Category.Index(), products[j].Category.Index()
		if ci != cj {
			return ci < cj
		}
		return products[i].ID < products[j].ID
	})
}
