package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// productRepositoryInMemory — in-memory реализация ProductRepository поверх Catalog.
type productRepositoryInMemory struct {
	catalog *Catalog
}

// NewProductRepository возвращает репозиторий товаров, разделяющий Catalog с брендами.
func NewProductRepository(catalog *Catalog) domain.ProductRepository {
	return &productRepositoryInMemory{catalog: catalog}
}

// Create сохраняет товар существующего бренда. Дубликаты категории не проверяются.
func (r *productRepositoryInMemory) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	c := r.catalog
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.brands[product.BrandID]; !ok {
		return domain.Product{}, domain.ErrBrandNotFound
	}

	c.nextProductID++
	product.ID = c.nextProductID
	product.Version = 0
	product.BrandName = ""
	c.products[product.ID] = product
	return c.withBrandNameLocked(product), nil
}

func (r *productRepositoryInMemory) Get(_ context.Context, id int64) (domain.Product, error) {
	c := r.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()

	product, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return c.withBrandNameLocked(product), nil
}

func (r *productRepositoryInMemory) List(_ context.Context) ([]domain.Product, error) {
	c := r.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Product, 0, len(c.products))
	for _, product := range c.products {
		result = append(result, c.withBrandNameLocked(product))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *productRepositoryInMemory) ListByBrand(_ context.Context, brandID int64) ([]domain.Product, error) {
	c := r.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Product, 0)
	for _, product := range c.products {
		if product.BrandID == brandID {
			result = append(result, c.withBrandNameLocked(product))
		}
	}
	sortProducts(result)
	return result, nil
}

// FindByBrandAndCategory возвращает товары бренда в категории: сначала дешёвые, затем по id.
func (r *productRepositoryInMemory) FindByBrandAndCategory(_ context.Context, brandID int64, category domain.Category) ([]domain.Product, error) {
	c := r.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Product, 0)
	for _, product := range c.products {
		if product.BrandID == brandID && product.Category == category {
			result = append(result, c.withBrandNameLocked(product))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Price != result[j].Price {
			return result[i].Price < result[j].Price
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// UpdatePrice сохраняет цену, проверяя версию (optimistic locking).
func (r *productRepositoryInMemory) UpdatePrice(_ context.Context, product domain.Product) (domain.Product, error) {
	c := r.catalog
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.products[product.ID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		return domain.Product{}, domain.ErrProductVersionConflict
	}

	current.Price = product.Price
	current.Version++
	c.products[current.ID] = current
	return c.withBrandNameLocked(current), nil
}

func (r *productRepositoryInMemory) Delete(_ context.Context, id, version int64) error {
	c := r.catalog
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if current.Version != version {
		return domain.ErrProductVersionConflict
	}
	delete(c.products, id)
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
