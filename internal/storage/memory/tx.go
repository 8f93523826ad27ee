package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

type stagedEventsKey struct{}

// stagedEvents копит события outbox до завершения транзакции.
type stagedEvents struct {
	mu     sync.Mutex
	order  []*OutboxRepository
	events map[*OutboxRepository][]domain.OutboxMessage
}

func (s *stagedEvents) add(repo *OutboxRepository, msg domain.OutboxMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[repo]; !ok {
		s.order = append(s.order, repo)
	}
	s.events[repo] = append(s.events[repo], msg)
}

func (s *stagedEvents) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, repo := range s.order {
		repo.append(s.events[repo]...)
	}
}

func stagedFrom(ctx context.Context) (*stagedEvents, bool) {
	staged, ok := ctx.Value(stagedEventsKey{}).(*stagedEvents)
	return staged, ok && staged != nil
}

// Transactor — in-memory реализация domain.Transactor. Изменения каталога
// применяются сразу, а события outbox публикуются в репозиторий только при
// успешном завершении fn; при ошибке они отбрасываются.
type Transactor struct{}

// NewTransactor создаёт in-memory Transactor.
func NewTransactor() Transactor {
	return Transactor{}
}

func (Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := stagedFrom(ctx); ok {
		return fn(ctx)
	}

	staged := &stagedEvents{events: make(map[*OutboxRepository][]domain.OutboxMessage)}
	if err := fn(context.WithValue(ctx, stagedEventsKey{}, staged)); err != nil {
		return err
	}
	staged.flush()
	return nil
}

var _ domain.Transactor = Transactor{}
