// Package retry повторяет версионированные записи при конфликте optimistic locking.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// Config конфигурация повторов.
type Config struct {
	// MaxAttempts — общее число попыток, включая первую.
	MaxAttempts int
	// Backoff — фиксированная пауза между попытками.
	Backoff time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию: 3 попытки с паузой 500ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
	}
}

// Observer получает события повторов (например, для метрик).
type Observer interface {
	ObserveConflict(op string)
	ObserveExhausted(op string)
}

// ExhaustedError возвращается, когда все попытки завершились конфликтом.
// Unwrap отдаёт последнюю ошибку, поэтому domain.IsVersionConflict остаётся true.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Retrier выполняет операцию и повторяет её, пока predicate считает ошибку retryable.
type Retrier struct {
	config    Config
	retryable func(error) bool
	observer  Observer
	logger    *log.Entry
}

// Option настраивает Retrier.
type Option func(*Retrier)

// WithPredicate задаёт классификатор ошибок, при которых нужен повтор.
func WithPredicate(predicate func(error) bool) Option {
	return func(r *Retrier) {
		if predicate != nil {
			r.retryable = predicate
		}
	}
}

// WithObserver подключает наблюдателя за конфликтами.
func WithObserver(observer Observer) Option {
	return func(r *Retrier) {
		r.observer = observer
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(r *Retrier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New создаёт Retrier. По умолчанию повторяются только конфликты версий.
func New(config Config, options ...Option) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.Backoff < 0 {
		config.Backoff = 0
	}

	r := &Retrier{
		config:    config,
		retryable: domain.IsVersionConflict,
		logger:    log.WithField("component", "retry"),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Config возвращает действующую конфигурацию.
func (r *Retrier) Config() Config {
	return r.config
}

// Do выполняет fn до MaxAttempts раз. fn должен сам перечитывать сущность из хранилища,
// чтобы каждая попытка видела актуальную версию.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"operation": op,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}
		if !r.retryable(err) {
			return err
		}

		lastErr = err
		if r.observer != nil {
			r.observer.ObserveConflict(op)
		}

		if attempt >= r.config.MaxAttempts {
			break
		}

		r.logger.WithFields(log.Fields{
			"operation": op,
			"attempt":   attempt,
			"backoff":   r.config.Backoff,
		}).WithError(err).Warn("version conflict, retrying")

		if err := sleep(ctx, r.config.Backoff); err != nil {
			// Конфликт сохраняется в цепочке, чтобы вызывающий классифицировал его как раньше.
			return fmt.Errorf("%s: retry aborted: %w", op, errors.Join(lastErr, err))
		}
	}

	if r.observer != nil {
		r.observer.ObserveExhausted(op)
	}
	r.logger.WithFields(log.Fields{
		"operation":    op,
		"max_attempts": r.config.MaxAttempts,
	}).WithError(lastErr).Error("operation failed after all retry attempts")

	return &ExhaustedError{Op: op, Attempts: r.config.MaxAttempts, Err: lastErr}
}

// Value — вариант Do для операций, возвращающих значение.
func Value[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
