package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	repo := NewOutboxRepository()

	msg := domain.OutboxMessage{
		AggregateType: "product",
		AggregateID:   "7",
		EventType:     "product.price_changed",
		Payload:       []byte(`{"price":15000}`),
	}

	saved, err := repo.Enqueue(context.Background(), msg)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}
	if pending[0].ID != saved.ID {
		t.Fatalf("expected same message id, got %s", pending[0].ID)
	}
}

func TestOutboxRepository_PullPendingKeepsInsertionOrder(t *testing.T) {
	repo := NewOutboxRepository()

	var ids []string
	for i := 0; i < 5; i++ {
		saved, err := repo.Enqueue(context.Background(), domain.OutboxMessage{AggregateType: "brand", EventType: "brand.created"})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		ids = append(ids, saved.ID)
	}

	pending, err := repo.PullPending(3)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(pending))
	}
	for i, msg := range pending {
		if msg.ID != ids[i] {
			t.Fatalf("message #%d: expected %s, got %s", i, ids[i], msg.ID)
		}
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	repo := NewOutboxRepository()

	saved, err := repo.Enqueue(context.Background(), domain.OutboxMessage{AggregateType: "brand"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	other, err := repo.Enqueue(context.Background(), domain.OutboxMessage{AggregateType: "brand"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 2 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := repo.MarkSent(saved.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(other.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkFailed("missing"); err == nil {
		t.Fatal("expected error for missing record")
	}

	stats, err = repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() {
		t.Fatalf("expected empty backlog, got %+v", stats)
	}
	if len(repo.AllPending()) != 0 {
		t.Fatal("expected no pending messages")
	}
}

func TestTransactor_PublishesEventsOnlyAfterSuccess(t *testing.T) {
	repo := NewOutboxRepository()
	tx := NewTransactor()
	ctx := context.Background()

	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: "brand", EventType: "brand.created"}); err != nil {
			return err
		}
		if got := len(repo.AllPending()); got != 0 {
			t.Fatalf("event must stay staged inside the transaction, got %d pending", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}
	if got := len(repo.AllPending()); got != 1 {
		t.Fatalf("expected 1 pending event after success, got %d", got)
	}

	failure := errors.New("brand update conflicted")
	err = tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: "brand", EventType: "brand.updated"}); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if got := len(repo.AllPending()); got != 1 {
		t.Fatalf("failed transaction must not publish events, got %d pending", got)
	}
}

func TestTransactor_NestedCallSharesStaging(t *testing.T) {
	repo := NewOutboxRepository()
	tx := NewTransactor()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		return tx.WithinTx(ctx, func(ctx context.Context) error {
			_, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: "product", EventType: "product.created"})
			return err
		})
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}
	if got := len(repo.AllPending()); got != 1 {
		t.Fatalf("expected 1 pending event, got %d", got)
	}
}
