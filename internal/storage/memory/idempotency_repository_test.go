package memory_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/storage/memory"
)

func TestIdempotencyRepository_StoresCreatedBrandResponse(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour)

	created, err := repo.CreateProcessing(" create-brand-J ", "hash-post-brands", ttl)
	if err != nil {
		t.Fatalf("CreateProcessing: %v", err)
	}
	if created.Key != "create-brand-J" || created.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("unexpected record: %+v", created)
	}

	body := []byte(`{"id":10,"name":"J","version":0}`)
	if err := repo.MarkDone("create-brand-J", body, 201); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	body[0] = 'X'

	got, err := repo.Get("create-brand-J")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.IdempotencyStatusDone || got.HTTPStatus != 201 {
		t.Fatalf("unexpected stored response: %s %d", got.Status, got.HTTPStatus)
	}
	if string(got.ResponseBody) != `{"id":10,"name":"J","version":0}` {
		t.Fatalf("stored body must not alias the caller's buffer, got %s", got.ResponseBody)
	}
	if !got.TTLAt.Equal(ttl) {
		t.Fatalf("expected ttl %s, got %s", ttl, got.TTLAt)
	}

	if err := repo.MarkFailed("create-brand-J", nil, 500); !errors.Is(err, domain.ErrIdempotencyKeyFinished) {
		t.Fatalf("expected ErrIdempotencyKeyFinished, got %v", err)
	}
	if err := repo.MarkDone("no-such-key", nil, 200); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_ReplayAndPayloadMismatch(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing("update-price-30", "hash-2000", ttl); err != nil {
		t.Fatalf("CreateProcessing: %v", err)
	}
	if err := repo.MarkFailed("update-price-30", []byte(`{"message":"product not found"}`), 404); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	existing, err := repo.CreateProcessing("update-price-30", "hash-2000", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.Status != domain.IdempotencyStatusFailed || existing.HTTPStatus != 404 {
		t.Fatalf("replay must return the stored failure, got %+v", existing)
	}

	if _, err := repo.CreateProcessing("update-price-30", "hash-2500", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestIdempotencyRepository_ReclaimsExpiredKey(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("delete-brand-4", "hash-old", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateProcessing expired: %v", err)
	}
	if err := repo.MarkDone("delete-brand-4", []byte(`{}`), 204); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	fresh, err := repo.CreateProcessing("delete-brand-4", "hash-new", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("expired key must be claimable before cleanup runs: %v", err)
	}
	if fresh.RequestHash != "hash-new" || fresh.Status != domain.IdempotencyStatusProcessing || fresh.HTTPStatus != 0 {
		t.Fatalf("unexpected reclaimed record: %+v", fresh)
	}
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for i, key := range []string{"import-3", "import-1", "import-2"} {
		if _, err := repo.CreateProcessing(key, "hash-"+key, now.Add(-time.Duration(5-i)*time.Minute)); err != nil {
			t.Fatalf("CreateProcessing %s: %v", key, err)
		}
	}
	if _, err := repo.CreateProcessing("import-live", "hash-live", now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateProcessing live: %v", err)
	}

	removed, err := repo.DeleteExpired(now, 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d err=%v", removed, err)
	}
	if _, err := repo.Get("import-2"); err != nil {
		t.Fatalf("the youngest expired key must survive a batch of two: %v", err)
	}
	if _, err := repo.Get("import-3"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("the oldest key must be removed first, got %v", err)
	}

	removed, err = repo.DeleteExpired(now, 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 removed without limit, got %d err=%v", removed, err)
	}
	if _, err := repo.Get("import-live"); err != nil {
		t.Fatalf("live key must stay: %v", err)
	}
}

func TestIdempotencyRepository_ConcurrentClaimHasSingleWinner(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateProcessing("create-product-D-BAG", "hash", ttl)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one request to claim the key, got %d", winners)
	}
}
