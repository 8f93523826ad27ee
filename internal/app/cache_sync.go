package app

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/cache"
	"github.com/vladislavdragonenkov/brandcatalog/internal/messaging/kafka"
)

// mutationFromEvent восстанавливает мутацию кеша по событию каталога.
func mutationFromEvent(event kafka.CatalogEvent) (cache.Mutation, bool) {
	mutation := cache.Mutation{
		BrandID:   event.BrandID,
		ProductID: event.ProductID,
		Category:  event.Category,
	}

	switch event.EventType {
	case kafka.EventTypeBrandCreated:
		mutation.Kind = cache.MutationCreateBrand
	case kafka.EventTypeBrandUpdated:
		mutation.Kind = cache.MutationUpdateBrandName
	case kafka.EventTypeBrandDeleted:
		mutation.Kind = cache.MutationDeleteBrand
	case kafka.EventTypeProductCreated:
		mutation.Kind = cache.MutationCreateProduct
	case kafka.EventTypeProductPriceChanged:
		mutation.Kind = cache.MutationUpdateProductPrice
		if event.ByBrandCategory {
			mutation.Kind = cache.MutationUpdateProductPriceByBrandCategory
		}
	case kafka.EventTypeProductDeleted:
		mutation.Kind = cache.MutationDeleteProduct
	default:
		return cache.Mutation{}, false
	}
	return mutation, true
}

// newCacheSyncHandler сбрасывает локальные view по событиям других экземпляров.
// Собственные события пропускаются: их инвалидация уже выполнена после фиксации.
func newCacheSyncHandler(c *cache.Cache, origin string, logger *log.Entry) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParseCatalogEvent(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("skip malformed catalog event")
			return nil
		}
		if event.Origin != "" && event.Origin == origin {
			return nil
		}

		mutation, ok := mutationFromEvent(event)
		if !ok {
			logger.WithField("event", event.EventType).Debug("skip unknown catalog event")
			return nil
		}

		c.Apply(ctx, mutation)
		logger.WithFields(log.Fields{
			"event":    event.EventType,
			"origin":   event.Origin,
			"mutation": mutation.Kind.String(),
		}).Debug("applied remote catalog change to view cache")
		return nil
	}
}
