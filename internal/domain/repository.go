package domain

import "context"

// BrandRepository описывает хранилище брендов с optimistic locking.
type BrandRepository interface {
	// Create сохраняет новый бренд с версией 0. Возвращает ErrDuplicateBrandName при коллизии имени.
	Create(ctx context.Context, name string) (Brand, error)
	// Get возвращает бренд по идентификатору или ErrBrandNotFound.
	Get(ctx context.Context, id int64) (Brand, error)
	// GetByName возвращает бренд по точному имени или ErrBrandNotFound.
	GetByName(ctx context.Context, name string) (Brand, error)
	// List возвращает все бренды, упорядоченные по id.
	List(ctx context.Context) ([]Brand, error)
	// Update сохраняет новое имя, если brand.Version совпадает с сохранённой версией,
	// и возвращает бренд с увеличенной версией.
	Update(ctx context.Context, brand Brand) (Brand, error)
	// Delete удаляет бренд вместе со всеми его товарами, если версия совпадает.
	Delete(ctx context.Context, id, version int64) error
}

// ProductRepository описывает хранилище товаров с optimistic locking.
type ProductRepository interface {
	// Create сохраняет товар с версией 0. Возвращает ErrBrandNotFound, если бренда нет.
	Create(ctx context.Context, product Product) (Product, error)
	// Get возвращает товар по идентификатору или ErrProductNotFound.
	Get(ctx context.Context, id int64) (Product, error)
	// List возвращает все товары, упорядоченные по id.
	List(ctx context.Context) ([]Product, error)
	// ListByBrand возвращает товары бренда в порядке категорий, затем по id.
	ListByBrand(ctx context.Context, brandID int64) ([]Product, error)
	// FindByBrandAndCategory возвращает товары бренда в категории, от дешёвых к дорогим.
	FindByBrandAndCategory(ctx context.Context, brandID int64, category Category) ([]Product, error)
	// UpdatePrice сохраняет цену, если product.Version совпадает с сохранённой версией.
	UpdatePrice(ctx context.Context, product Product) (Product, error)
	// Delete удаляет товар, если версия совпадает.
	Delete(ctx context.Context, id, version int64) error
}

// PriceQueries — агрегирующие запросы по ценам.
type PriceQueries interface {
	// LowestByCategory возвращает все бренды с минимальной ценой в категории.
	LowestByCategory(ctx context.Context, category Category) ([]CategoryPrice, error)
	// HighestByCategory возвращает все бренды с максимальной ценой в категории.
	HighestByCategory(ctx context.Context, category Category) ([]CategoryPrice, error)
	// LowestByAllCategories возвращает по одной минимальной цене на категорию и их сумму.
	LowestByAllCategories(ctx context.Context) (LowestPriceTable, error)
	// FullCoverageTotals возвращает бренды, покрывающие все категории, по возрастанию суммы.
	FullCoverageTotals(ctx context.Context) ([]BrandTotal, error)
}
