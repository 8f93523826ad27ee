package catalog

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/cache"
	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/retry"
)

// CreateProduct создаёт товар бренда в категории.
func (s *Service) CreateProduct(ctx context.Context, brandID int64, category domain.Category, price int64) (product domain.Product, err error) {
	op := cache.MutationCreateProduct.String()
	done := s.track(op)
	defer func() { done(err) }()

	if err = validateCategory(category); err != nil {
		return domain.Product{}, err
	}
	if err = domain.ValidatePrice(price); err != nil {
		return domain.Product{}, err
	}

	err = s.write(ctx, func(ctx context.Context) (kafka.CatalogEvent, error) {
		if _, err := s.brands.Get(ctx, brandID); err != nil {
			return kafka.CatalogEvent{}, err
		}
		if s.rejectDuplicateCategory {
			// Между проверкой и вставкой возможна гонка: два параллельных запроса
			// могут создать два товара бренда в одной категории.
			existing, err := s.products.FindByBrandAndCategory(ctx, brandID, category)
			if err != nil {
				return kafka.CatalogEvent{}, err
			}
			if len(existing) > 0 {
				return kafka.CatalogEvent{}, fmt.Errorf("%w: brand %d, category %s", domain.ErrDuplicateBrandCategory, brandID, category)
			}
		}

		created, err := s.products.Create(ctx, domain.Product{BrandID: brandID, Category: category, Price: price})
		if err != nil {
			return kafka.CatalogEvent{}, err
		}
		product = created
		return kafka.NewProductEvent(kafka.EventTypeProductCreated, created), nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.committed(ctx, cache.Mutation{
		Kind:      cache.MutationCreateProduct,
		BrandID:   product.BrandID,
		ProductID: product.ID,
		Category:  product.Category,
	})
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"brand_id":   product.BrandID,
		"category":   product.Category,
		"price":      product.Price,
	}).Info("product created")
	return product, nil
}

// UpdateProduct меняет цену товара по id.
func (s *Service) UpdateProduct(ctx context.Context, id int64, price int64) (product domain.Product, err error) {
	op := cache.MutationUpdateProductPrice.String()
	done := s.track(op)
	defer func() { done(err) }()

	if err = domain.ValidatePrice(price); err != nil {
		return domain.Product{}, err
	}

	product, err = retry.Value(ctx, s.retrier, op, func(ctx context.Context) (domain.Product, error) {
		return s.writePrice(ctx, price, false, func(ctx context.Context) (domain.Product, error) {
			return s.products.Get(ctx, id)
		})
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.committed(ctx, cache.Mutation{
		Kind:      cache.MutationUpdateProductPrice,
		BrandID:   product.BrandID,
		ProductID: product.ID,
		Category:  product.Category,
	})
	s.logPriceChange(product)
	return product, nil
}

// UpdateProductByBrandAndCategory меняет цену товара бренда в категории.
// Если таких товаров несколько, обновляется самый дешёвый (при равенстве с меньшим id).
func (s *Service) UpdateProductByBrandAndCategory(ctx context.Context, brandID int64, category domain.Category, price int64) (product domain.Product, err error) {
	op := cache.MutationUpdateProductPriceByBrandCategory.String()
	done := s.track(op)
	defer func() { done(err) }()

	if err = validateCategory(category); err != nil {
		return domain.Product{}, err
	}
	if err = domain.ValidatePrice(price); err != nil {
		return domain.Product{}, err
	}

	product, err = retry.Value(ctx, s.retrier, op, func(ctx context.Context) (domain.Product, error) {
		return s.writePrice(ctx, price, true, func(ctx context.Context) (domain.Product, error) {
			return s.findByBrandAndCategory(ctx, brandID, category)
		})
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.committed(ctx, cache.Mutation{
		Kind:      cache.MutationUpdateProductPriceByBrandCategory,
		BrandID:   product.BrandID,
		ProductID: product.ID,
		Category:  product.Category,
	})
	s.logPriceChange(product)
	return product, nil
}

// DeleteProduct удаляет товар.
func (s *Service) DeleteProduct(ctx context.Context, id int64) (err error) {
	op := cache.MutationDeleteProduct.String()
	done := s.track(op)
	defer func() { done(err) }()

	var deleted domain.Product
	err = s.retrier.Do(ctx, op, func(ctx context.Context) error {
		return s.write(ctx, func(ctx context.Context) (kafka.CatalogEvent, error) {
			current, err := s.products.Get(ctx, id)
			if err != nil {
				return kafka.CatalogEvent{}, err
			}
			if err := s.products.Delete(ctx, current.ID, current.Version); err != nil {
				return kafka.CatalogEvent{}, err
			}
			deleted = current
			return kafka.NewProductEvent(kafka.EventTypeProductDeleted, current), nil
		})
	})
	if err != nil {
		return err
	}

	s.committed(ctx, cache.Mutation{
		Kind:      cache.MutationDeleteProduct,
		BrandID:   deleted.BrandID,
		ProductID: deleted.ID,
		Category:  deleted.Category,
	})
	s.logger.WithFields(log.Fields{"product_id": id, "brand_id": deleted.BrandID}).Info("product deleted")
	return nil
}

// writePrice перечитывает товар через lookup и применяет цену в одной
// транзакции с событием price_changed.
func (s *Service) writePrice(ctx context.Context, price int64, byBrandCategory bool, lookup func(ctx context.Context) (domain.Product, error)) (domain.Product, error) {
	var updated domain.Product
	err := s.write(ctx, func(ctx context.Context) (kafka.CatalogEvent, error) {
		current, err := lookup(ctx)
		if err != nil {
			return kafka.CatalogEvent{}, err
		}
		current.Price = price
		if updated, err = s.products.UpdatePrice(ctx, current); err != nil {
			return kafka.CatalogEvent{}, err
		}
		event := kafka.NewProductEvent(kafka.EventTypeProductPriceChanged, updated)
		event.ByBrandCategory = byBrandCategory
		return event, nil
	})
	return updated, err
}

func (s *Service) logPriceChange(product domain.Product) {
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"brand_id":   product.BrandID,
		"category":   product.Category,
		"price":      product.Price,
		"version":    product.Version,
	}).Info("product price updated")
}

// findByBrandAndCategory возвращает самый дешёвый товар бренда в категории.
// NotFound различает отсутствие бренда и отсутствие товара.
func (s *Service) findByBrandAndCategory(ctx context.Context, brandID int64, category domain.Category) (domain.Product, error) {
	candidates, err := s.products.FindByBrandAndCategory(ctx, brandID, category)
	if err != nil {
		return domain.Product{}, err
	}
	if len(candidates) > 0 {
		return candidates[0], nil
	}
	if _, err := s.brands.Get(ctx, brandID); err != nil {
		return domain.Product{}, err
	}
	return domain.Product{}, fmt.Errorf("%w: brand %d has no %s product", domain.ErrProductNotFound, brandID, category)
}

// ListProducts возвращает все товары по возрастанию id.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.ViewProducts, cache.KeyAll, func(ctx context.Context) ([]domain.Product, error) {
		s.logger.Debug("loading products from store")
		return s.products.List(ctx)
	})
}

// GetProduct возвращает товар по id.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.ViewProductByID, cache.IDKey(id), func(ctx context.Context) (domain.Product, error) {
		s.logger.WithField("product_id", id).Debug("loading product from store")
		return s.products.Get(ctx, id)
	})
}

// ListProductsByBrand возвращает товары бренда в порядке категорий.
func (s *Service) ListProductsByBrand(ctx context.Context, brandID int64) ([]domain.Product, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.ViewProductsByBrand, cache.IDKey(brandID), func(ctx context.Context) ([]domain.Product, error) {
		s.logger.WithField("brand_id", brandID).Debug("loading brand products from store")
		products, err := s.products.ListByBrand(ctx, brandID)
		if err != nil {
			return nil, err
		}
		if len(products) == 0 {
			if _, err := s.brands.Get(ctx, brandID); err != nil {
				return nil, err
			}
		}
		return products, nil
	})
}

// GetProductByBrandAndCategory возвращает самый дешёвый товар бренда в категории.
func (s *Service) GetProductByBrandAndCategory(ctx context.Context, brandID int64, category domain.Category) (domain.Product, error) {
	if err := validateCategory(category); err != nil {
		return domain.Product{}, err
	}
	key := cache.BrandCategoryKey(brandID, category)
	return cache.GetOrLoad(ctx, s.cache, cache.ViewProductByBrandCategory, key, func(ctx context.Context) (domain.Product, error) {
		s.logger.WithFields(log.Fields{"brand_id": brandID, "category": category}).Debug("loading brand category product from store")
		return s.findByBrandAndCategory(ctx, brandID, category)
	})
}
