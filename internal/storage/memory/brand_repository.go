package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// brandRepositoryInMemory — in-memory реализация BrandRepository поверх Catalog.
type brandRepositoryInMemory struct {
	catalog *Catalog
}

// NewBrandRepository возвращает репозиторий брендов для локальной разработки и тестов.
func NewBrandRepository(catalog *Catalog) domain.BrandRepository {
	return &brandRepositoryInMemory{catalog: catalog}
}

// Create сохраняет новый бренд, если имя ещё не занято.
func (r *brandRepositoryInMemory) Create(_ context.Context, name string) (domain.Brand, error) {
	c := r.catalog
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.brandByNameLocked(name); exists {
		return domain.Brand{}, domain.ErrDuplicateBrandName
	}

	c.nextBrandID++
	brand := domain.Brand{ID: c.nextBrandID, Name: name}
	c.brands[brand.ID] = brand
	return brand, nil
}

// Get возвращает бренд или ErrBrandNotFound.
func (r *brandRepositoryInMemory) Get(_ context.Context, id int64) (domain.Brand, error) {
	c := r.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()

	brand, ok := c.brands[id]
	if !ok {
		return domain.Brand{}, domain.ErrBrandNotFound
	}
	return brand, nil
}

// GetByName возвращает бренд по точному имени.
func (r *brandRepositoryInMemory) GetByName(_ context.Context, name string) (domain.Brand, error) {
	c := r.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()

	brand, ok := c.brandByNameLocked(name)
	if !ok {
		return domain.Brand{}, domain.ErrBrandNotFound
	}
	return brand, nil
}

func (r *brandRepositoryInMemory) List(_ context.Context) ([]domain.Brand, error) {
	c := r.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Brand, 0, len(c.brands))
	for _, brand := range c.brands {
		result = append(result, brand)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Update переименовывает бренд, проверяя версию (optimistic locking).
func (r *brandRepositoryInMemory) Update(_ context.Context, brand domain.Brand) (domain.Brand, error) {
	c := r.catalog
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.brands[brand.ID]
	if !ok {
		return domain.Brand{}, domain.ErrBrandNotFound
	}
	if current.Version != brand.Version {
		return domain.Brand{}, domain.ErrBrandVersionConflict
	}
	if other, exists := c.brandByNameLocked(brand.Name); exists && other.ID != brand.ID {
		return domain.Brand{}, domain.ErrDuplicateBrandName
	}

	current.Name = brand.Name
	current.Version++
	c.brands[current.ID] = current
	return current, nil
}

// Delete удаляет бренд и все его товары одной операцией.
func (r *brandRepositoryInMemory) Delete(_ context.Context, id, version int64) error {
	c := r.catalog
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.brands[id]
	if !ok {
		return domain.ErrBrandNotFound
	}
	if current.Version != version {
		return domain.ErrBrandVersionConflict
	}

	for productID, product := range c.products {
		if product.BrandID == id {
			delete(c.products, productID)
		}
	}
	delete(c.brands, id)
	return nil
}

var _ domain.BrandRepository = (*brandRepositoryInMemory)(nil)
