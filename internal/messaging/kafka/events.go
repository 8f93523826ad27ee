package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// EventType определяет тип события каталога
type EventType string

const (
	// Brand события
	EventTypeBrandCreated EventType = "brand.created"
	EventTypeBrandUpdated EventType = "brand.updated"
	EventTypeBrandDeleted EventType = "brand.deleted"

	// Product события
	EventTypeProductCreated      EventType = "product.created"
	EventTypeProductPriceChanged EventType = "product.price_changed"
	EventTypeProductDeleted      EventType = "product.deleted"
)

// Topics для Kafka
const (
	TopicCatalogEvents   = "catalog.events"
	TopicDeadLetterQueue = "catalog.dlq" // Dead Letter Queue для failed messages
)

// Типы агрегатов outbox.
const (
	AggregateBrand   = "brand"
	AggregateProduct = "product"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// CatalogEvent описывает зафиксированное изменение каталога.
// Origin — идентификатор экземпляра сервиса, выполнившего изменение.
type CatalogEvent struct {
	EventType EventType       `json:"event_type"`
	Origin    string          `json:"origin,omitempty"`
	BrandID   int64           `json:"brand_id"`
	BrandName string          `json:"brand_name,omitempty"`
	ProductID int64           `json:"product_id,omitempty"`
	Category  domain.Category `json:"category,omitempty"`
	Price     int64           `json:"price,omitempty"`
	Version   int64           `json:"version"`
	// ByBrandCategory отмечает обновление цены по бренду и категории.
	ByBrandCategory bool      `json:"by_brand_category,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewBrandEvent создает событие бренда
func NewBrandEvent(eventType EventType, brand domain.Brand) CatalogEvent {
	return CatalogEvent{
		EventType: eventType,
		BrandID:   brand.ID,
		BrandName: brand.Name,
		Version:   brand.Version,
		Timestamp: time.Now().UTC(),
	}
}

// NewProductEvent создает событие товара
func NewProductEvent(eventType EventType, product domain.Product) CatalogEvent {
	return CatalogEvent{
		EventType: eventType,
		BrandID:   product.BrandID,
		BrandName: product.BrandName,
		ProductID: product.ID,
		Category:  product.Category,
		Price:     product.Price,
		Version:   product.Version,
		Timestamp: time.Now().UTC(),
	}
}

// AggregateType возвращает тип агрегата события.
func (e CatalogEvent) AggregateType() string {
	if e.ProductID != 0 {
		return AggregateProduct
	}
	return AggregateBrand
}

// AggregateID возвращает идентификатор агрегата; он же ключ партиционирования.
func (e CatalogEvent) AggregateID() string {
	if e.ProductID != 0 {
		return strconv.FormatInt(e.ProductID, 10)
	}
	return strconv.FormatInt(e.BrandID, 10)
}

// OutboxMessage упаковывает событие в сообщение outbox.
func (e CatalogEvent) OutboxMessage() (domain.OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal catalog event: %w", err)
	}
	return domain.OutboxMessage{
		AggregateType: e.AggregateType(),
		AggregateID:   e.AggregateID(),
		EventType:     string(e.EventType),
		Payload:       payload,
	}, nil
}

// outboxEnvelope — формат сообщения, которое OutboxTopicPublisher пишет в topic.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// ParseCatalogEvent извлекает CatalogEvent из сообщения topic catalog.events.
func ParseCatalogEvent(message *sarama.ConsumerMessage) (CatalogEvent, error) {
	var envelope outboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return CatalogEvent{}, fmt.Errorf("failed to unmarshal outbox envelope: %w", err)
	}
	if len(envelope.Payload) == 0 {
		return CatalogEvent{}, fmt.Errorf("outbox envelope %q has empty payload", envelope.ID)
	}

	var event CatalogEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return CatalogEvent{}, fmt.Errorf("failed to unmarshal catalog event: %w", err)
	}
	if event.EventType == "" {
		event.EventType = EventType(envelope.EventType)
	}
	return event, nil
}
