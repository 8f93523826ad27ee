package catalog

import (
	"context"

	"github.com/vladislavdragonenkov/brandcatalog/internal/cache"
	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// FindLowestPriceByAllCategories возвращает минимальную цену каждой категории и их сумму.
func (s *Service) FindLowestPriceByAllCategories(ctx context.Context) (domain.LowestPriceTable, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.ViewLowestByCategory, cache.KeyAllCategories, func(ctx context.Context) (domain.LowestPriceTable, error) {
		s.logger.Debug("calculating lowest prices for all categories")
		return s.prices.LowestByAllCategories(ctx)
	})
}

// FindLowestPriceByCategory возвращает все бренды с минимальной ценой в категории.
func (s *Service) FindLowestPriceByCategory(ctx context.Context, category domain.Category) ([]domain.CategoryPrice, error) {
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	return cache.GetOrLoad(ctx, s.cache, cache.ViewLowestByCategory, string(category), func(ctx context.Context) ([]domain.CategoryPrice, error) {
		s.logger.WithField("category", category).Debug("calculating lowest price for category")
		return s.prices.LowestByCategory(ctx, category)
	})
}

// FindHighestPriceByCategory возвращает все бренды с максимальной ценой в категории.
func (s *Service) FindHighestPriceByCategory(ctx context.Context, category domain.Category) ([]domain.CategoryPrice, error) {
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	return cache.GetOrLoad(ctx, s.cache, cache.ViewHighestByCategory, string(category), func(ctx context.Context) ([]domain.CategoryPrice, error) {
		s.logger.WithField("category", category).Debug("calculating highest price for category")
		return s.prices.HighestByCategory(ctx, category)
	})
}

// FindBrandWithLowestTotalPrice возвращает бренд с самым дешёвым полным комплектом.
// При равных суммах выбирается бренд с меньшим id.
func (s *Service) FindBrandWithLowestTotalPrice(ctx context.Context) (domain.BrandTotal, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.ViewLowestTotalBrand, cache.KeyCheapestBrand, func(ctx context.Context) (domain.BrandTotal, error) {
		s.logger.Debug("calculating brand with lowest total price")
		totals, err := s.prices.FullCoverageTotals(ctx)
		if err != nil {
			return domain.BrandTotal{}, err
		}
		if len(totals) == 0 {
			return domain.BrandTotal{}, domain.ErrNoQualifyingBrand
		}
		return totals[0], nil
	})
}

// ListBrandTotals возвращает все бренды с полным набором категорий по возрастанию суммы.
func (s *Service) ListBrandTotals(ctx context.Context) ([]domain.BrandTotal, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.ViewLowestTotalBrand, cache.KeyBrandTotals, func(ctx context.Context) ([]domain.BrandTotal, error) {
		s.logger.Debug("calculating totals for all brands")
		return s.prices.FullCoverageTotals(ctx)
	})
}
