package catalog

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/cache"
	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/retry"
)

// CreateBrand создаёт бренд. Имя обрезается и должно быть уникальным.
func (s *Service) CreateBrand(ctx context.Context, name string) (brand domain.Brand, err error) {
	op := cache.MutationCreateBrand.String()
	done := s.track(op)
	defer func() { done(err) }()

	name, err = domain.NormalizeBrandName(name)
	if err != nil {
		return domain.Brand{}, err
	}

	err = s.write(ctx, func(ctx context.Context) (kafka.CatalogEvent, error) {
		created, err := s.brands.Create(ctx, name)
		if err != nil {
			return kafka.CatalogEvent{}, err
		}
		brand = created
		return kafka.NewBrandEvent(kafka.EventTypeBrandCreated, created), nil
	})
	if err != nil {
		return domain.Brand{}, err
	}

	s.committed(ctx, cache.Mutation{Kind: cache.MutationCreateBrand, BrandID: brand.ID})
	s.logger.WithFields(log.Fields{"brand_id": brand.ID, "name": brand.Name}).Info("brand created")
	return brand, nil
}

// UpdateBrand переименовывает бренд. Каждая попытка перечитывает бренд из хранилища.
func (s *Service) UpdateBrand(ctx context.Context, id int64, name string) (brand domain.Brand, err error) {
	op := cache.MutationUpdateBrandName.String()
	done := s.track(op)
	defer func() { done(err) }()

	name, err = domain.NormalizeBrandName(name)
	if err != nil {
		return domain.Brand{}, err
	}

	brand, err = retry.Value(ctx, s.retrier, op, func(ctx context.Context) (domain.Brand, error) {
		var updated domain.Brand
		err := s.write(ctx, func(ctx context.Context) (kafka.CatalogEvent, error) {
			current, err := s.brands.Get(ctx, id)
			if err != nil {
				return kafka.CatalogEvent{}, err
			}
			current.Name = name
			if updated, err = s.brands.Update(ctx, current); err != nil {
				return kafka.CatalogEvent{}, err
			}
			return kafka.NewBrandEvent(kafka.EventTypeBrandUpdated, updated), nil
		})
		return updated, err
	})
	if err != nil {
		return domain.Brand{}, err
	}

	s.committed(ctx, cache.Mutation{Kind: cache.MutationUpdateBrandName, BrandID: brand.ID})
	s.logger.WithFields(log.Fields{
		"brand_id": brand.ID,
		"name":     brand.Name,
		"version":  brand.Version,
	}).Info("brand updated")
	return brand, nil
}

// DeleteBrand удаляет бренд вместе со всеми товарами.
func (s *Service) DeleteBrand(ctx context.Context, id int64) (err error) {
	op := cache.MutationDeleteBrand.String()
	done := s.track(op)
	defer func() { done(err) }()

	err = s.retrier.Do(ctx, op, func(ctx context.Context) error {
		return s.write(ctx, func(ctx context.Context) (kafka.CatalogEvent, error) {
			current, err := s.brands.Get(ctx, id)
			if err != nil {
				return kafka.CatalogEvent{}, err
			}
			if err := s.brands.Delete(ctx, current.ID, current.Version); err != nil {
				return kafka.CatalogEvent{}, err
			}
			return kafka.NewBrandEvent(kafka.EventTypeBrandDeleted, current), nil
		})
	})
	if err != nil {
		return err
	}

	s.committed(ctx, cache.Mutation{Kind: cache.MutationDeleteBrand, BrandID: id})
	s.logger.WithField("brand_id", id).Info("brand deleted")
	return nil
}

// ListBrands возвращает все бренды по возрастанию id.
func (s *Service) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.ViewBrands, cache.KeyAll, func(ctx context.Context) ([]domain.Brand, error) {
		s.logger.Debug("loading brands from store")
		return s.brands.List(ctx)
	})
}

// GetBrand возвращает бренд по id.
func (s *Service) GetBrand(ctx context.Context, id int64) (domain.Brand, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.ViewBrandByID, cache.IDKey(id), func(ctx context.Context) (domain.Brand, error) {
		s.logger.WithField("brand_id", id).Debug("loading brand from store")
		return s.brands.Get(ctx, id)
	})
}

// GetBrandByName возвращает бренд по точному имени.
func (s *Service) GetBrandByName(ctx context.Context, name string) (domain.Brand, error) {
	name, err := domain.NormalizeBrandName(name)
	if err != nil {
		return domain.Brand{}, err
	}
	return cache.GetOrLoad(ctx, s.cache, cache.ViewBrandByName, name, func(ctx context.Context) (domain.Brand, error) {
		s.logger.WithField("name", name).Debug("loading brand by name from store")
		return s.brands.GetByName(ctx, name)
	})
}
