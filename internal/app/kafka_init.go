package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/messaging/kafka"
)

// catalogEvents — подключение к Kafka для публикации событий каталога.
// Нулевое значение означает, что события отключены.
type catalogEvents struct {
	producer *kafka.Producer
	topic    string
}

// splitBrokers разбирает список брокеров через запятую.
func splitBrokers(brokers string) []string {
	var list []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			list = append(list, broker)
		}
	}
	return list
}

// initCatalogEvents подключается к брокерам из cfg. Пустой список или
// недоступная Kafka отключают события, сервис продолжает работу без них.
func initCatalogEvents(cfg Config, logger *log.Entry) (catalogEvents, error) {
	brokers := splitBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not configured, catalog events are disabled")
		return catalogEvents{}, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("kafka is unavailable, catalog events are disabled")
		return catalogEvents{}, err
	}

	topic := cfg.KafkaTopic
	if topic == "" {
		topic = kafka.TopicCatalogEvents
	}
	logger.WithFields(log.Fields{"brokers": brokers, "topic": topic}).Info("catalog events go to kafka")
	return catalogEvents{producer: producer, topic: topic}, nil
}

func (e catalogEvents) enabled() bool {
	return e.producer != nil
}

// publisher отдаёт издателя outbox в основной topic каталога.
func (e catalogEvents) publisher() domain.OutboxPublisher {
	return kafka.NewOutboxPublisher(e.producer, e.topic)
}

// deadLetters отдаёт издателя для событий, исчерпавших попытки.
func (e catalogEvents) deadLetters() domain.OutboxPublisher {
	return kafka.NewOutboxPublisher(e.producer, kafka.TopicDeadLetterQueue)
}

func (e catalogEvents) close(logger *log.Entry) {
	if e.producer == nil {
		return
	}
	if err := e.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
