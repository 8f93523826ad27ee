// Package catalog реализует операции каталога брендов и товаров: запись с
// optimistic locking и повторами, инвалидацию view после фиксации и
// агрегирующие запросы цен.
package catalog

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/cache"
	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/brandcatalog/internal/metrics"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/retry"
)

// afterCommitTimeout ограничивает инвалидацию view после фиксации.
const afterCommitTimeout = 5 * time.Second

// passthroughTx выполняет fn без транзакции, когда хранилище её не даёт.
type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Service — фасад каталога для транспортного слоя.
type Service struct {
	brands   domain.BrandRepository
	products domain.ProductRepository
	prices   domain.PriceQueries

	tx      domain.Transactor
	outbox  domain.OutboxRepository
	cache   *cache.Cache
	retrier *retry.Retrier
	metrics *metrics.CatalogMetrics
	logger  *log.Entry

	rejectDuplicateCategory bool
	origin                  string
}

// Option настраивает Service.
type Option func(*Service)

// WithCache подключает кеш view. Без него все чтения идут в хранилище.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithOutbox включает запись событий изменений в outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithTransactor задаёт транзакции хранилища: изменение и его событие outbox
// фиксируются вместе.
func WithTransactor(tx domain.Transactor) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

// WithRetrier задаёт политику повторов при конфликте версий.
func WithRetrier(r *retry.Retrier) Option {
	return func(s *Service) {
		if r != nil {
			s.retrier = r
		}
	}
}

// WithMetrics подключает метрики операций.
func WithMetrics(m *metrics.CatalogMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDuplicateCategoryCheck включает или отключает проверку повторного товара
// бренда в категории при создании. Проверка не атомарна с вставкой.
func WithDuplicateCategoryCheck(enabled bool) Option {
	return func(s *Service) {
		s.rejectDuplicateCategory = enabled
	}
}

// WithOrigin задаёт идентификатор экземпляра, который попадает в события.
func WithOrigin(origin string) Option {
	return func(s *Service) {
		s.origin = origin
	}
}

// New создаёт сервис каталога.
func New(brands domain.BrandRepository, products domain.ProductRepository, prices domain.PriceQueries, options ...Option) *Service {
	s := &Service{
		brands:                  brands,
		products:                products,
		prices:                  prices,
		tx:                      passthroughTx{},
		retrier:                 retry.New(retry.DefaultConfig()),
		logger:                  log.WithField("component", "catalog"),
		rejectDuplicateCategory: true,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// track учитывает операцию в метриках; возвращённую функцию нужно вызвать с итоговой ошибкой.
func (s *Service) track(op string) func(err error) {
	if s.metrics == nil {
		return func(error) {}
	}
	start := time.Now()
	s.metrics.RecordMutationStarted()
	return func(err error) {
		s.metrics.RecordMutationFinished()
		s.metrics.RecordMutation(op, err, time.Since(start))
	}
}

// write выполняет изменение и ставит его событие в outbox в одной транзакции.
// Ошибка постановки откатывает изменение.
func (s *Service) write(ctx context.Context, fn func(ctx context.Context) (kafka.CatalogEvent, error)) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		event, err := fn(ctx)
		if err != nil {
			return err
		}
		return s.enqueue(ctx, event)
	})
}

func (s *Service) enqueue(ctx context.Context, event kafka.CatalogEvent) error {
	if s.outbox == nil {
		return nil
	}

	event.Origin = s.origin
	msg, err := event.OutboxMessage()
	if err != nil {
		return err
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"event":        event.EventType,
			"aggregate_id": msg.AggregateID,
		}).Error("enqueue event failed, rolling back")
		return fmt.Errorf("enqueue %s event: %w", event.EventType, err)
	}
	return nil
}

// committed выполняется только после успешной фиксации изменения и сбрасывает
// затронутые view. Отмена запроса на этом этапе уже ничего не откатывает,
// поэтому используется отдельный контекст.
func (s *Service) committed(ctx context.Context, mutation cache.Mutation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterCommitTimeout)
	defer cancel()

	s.cache.Apply(ctx, mutation)
	if s.outbox != nil && s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

func validateCategory(category domain.Category) error {
	if category == "" {
		return domain.ErrCategoryRequired
	}
	if !category.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCategory, string(category))
	}
	return nil
}
