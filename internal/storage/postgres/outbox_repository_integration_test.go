package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/messaging/kafka"
)

func catalogEventMessage(t *testing.T, event kafka.CatalogEvent) domain.OutboxMessage {
	t.Helper()

	msg, err := event.OutboxMessage()
	if err != nil {
		t.Fatalf("build outbox message: %v", err)
	}
	return msg
}

func TestOutboxRepository_CatalogEventsDrainInEnqueueOrder(t *testing.T) {
	store := openCatalogStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	brand := domain.Brand{ID: 4, Name: "D", Version: 0}
	created, err := repo.Enqueue(ctx, catalogEventMessage(t, kafka.NewBrandEvent(kafka.EventTypeBrandCreated, brand)))
	if err != nil {
		t.Fatalf("enqueue brand event: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated event id")
	}

	product := domain.Product{ID: 30, BrandID: 4, BrandName: "D", Category: domain.CategoryBag, Price: 2000, Version: 1}
	priceMsg := catalogEventMessage(t, kafka.NewProductEvent(kafka.EventTypeProductPriceChanged, product))
	priceMsg.ID = "price-change-30"
	changed, err := repo.Enqueue(ctx, priceMsg)
	if err != nil {
		t.Fatalf("enqueue price event: %v", err)
	}
	if changed.ID != "price-change-30" {
		t.Fatalf("explicit id must be kept, got %q", changed.ID)
	}

	pending, err := repo.PullPending(0)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}
	if pending[0].EventType != string(kafka.EventTypeBrandCreated) || pending[1].EventType != string(kafka.EventTypeProductPriceChanged) {
		t.Fatalf("unexpected order: %s, %s", pending[0].EventType, pending[1].EventType)
	}
	if pending[1].AggregateType != kafka.AggregateProduct || pending[1].AggregateID != "30" {
		t.Fatalf("unexpected product aggregate: %s/%s", pending[1].AggregateType, pending[1].AggregateID)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected backlog: %+v", stats)
	}

	if err := repo.MarkSent(created.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(changed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err = repo.Stats()
	if err != nil {
		t.Fatalf("stats after publish: %v", err)
	}
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() {
		t.Fatalf("expected empty backlog, got %+v", stats)
	}
}

func TestOutboxRepository_MarkUnknownEvent(t *testing.T) {
	store := openCatalogStore(t)
	repo := NewOutboxRepository(store)

	if err := repo.MarkSent("no-such-event"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}
	if err := repo.MarkFailed("no-such-event"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}
}

func TestStore_WithinTxCommitsBrandAndEventTogether(t *testing.T) {
	store := openCatalogStore(t)
	brands := NewBrandRepository(store)
	outbox := NewOutboxRepository(store)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		brand, err := brands.Create(ctx, "J")
		if err != nil {
			return err
		}
		_, err = outbox.Enqueue(ctx, catalogEventMessage(t, kafka.NewBrandEvent(kafka.EventTypeBrandCreated, brand)))
		return err
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}

	if _, err := brands.GetByName(ctx, "J"); err != nil {
		t.Fatalf("brand must be committed: %v", err)
	}
	stats, err := outbox.Stats()
	if err != nil || stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending event, got %+v err=%v", stats, err)
	}
}

func TestStore_WithinTxRollbackDropsBrandAndEvent(t *testing.T) {
	store := openCatalogStore(t)
	brands := NewBrandRepository(store)
	outbox := NewOutboxRepository(store)
	ctx := context.Background()

	errAfterEnqueue := errors.New("crash after enqueue")
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		brand, err := brands.Create(ctx, "K")
		if err != nil {
			return err
		}
		if _, err := outbox.Enqueue(ctx, catalogEventMessage(t, kafka.NewBrandEvent(kafka.EventTypeBrandCreated, brand))); err != nil {
			return err
		}
		return errAfterEnqueue
	})
	if !errors.Is(err, errAfterEnqueue) {
		t.Fatalf("expected callback error, got %v", err)
	}

	if _, err := brands.GetByName(ctx, "K"); !errors.Is(err, domain.ErrBrandNotFound) {
		t.Fatalf("brand must be rolled back, got %v", err)
	}
	stats, err := outbox.Stats()
	if err != nil || stats.PendingCount != 0 {
		t.Fatalf("event must be rolled back, got %+v err=%v", stats, err)
	}
}

func TestStore_WithinTxConflictRollsBackEarlierWrites(t *testing.T) {
	store := openCatalogStore(t)
	brands := NewBrandRepository(store)
	outbox := NewOutboxRepository(store)
	ctx := context.Background()

	brand, err := brands.Create(ctx, "L")
	if err != nil {
		t.Fatalf("create brand: %v", err)
	}

	err = store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := outbox.Enqueue(ctx, catalogEventMessage(t, kafka.NewBrandEvent(kafka.EventTypeBrandUpdated, brand))); err != nil {
			return err
		}
		stale := brand
		stale.Name = "L2"
		stale.Version = brand.Version + 5
		_, err := brands.Update(ctx, stale)
		return err
	})
	if !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stats, err := outbox.Stats()
	if err != nil || stats.PendingCount != 0 {
		t.Fatalf("event enqueued before the conflict must be rolled back, got %+v err=%v", stats, err)
	}
	current, err := brands.Get(ctx, brand.ID)
	if err != nil || current.Name != "L" {
		t.Fatalf("brand must be unchanged, got %+v err=%v", current, err)
	}
}
