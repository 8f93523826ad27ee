package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestLocalBackend_CapacityPerView(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(3, time.Minute)

	for i := 0; i < 5; i++ {
		if err := b.Set(ctx, ViewProductByID, fmt.Sprint(i), []byte("x")); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if got := b.Len(ViewProductByID); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}
	if _, ok, _ := b.Get(ctx, ViewProductByID, "0"); ok {
		t.Fatal("oldest entry must be evicted")
	}
	if _, ok, _ := b.Get(ctx, ViewProductByID, "4"); !ok {
		t.Fatal("newest entry must be present")
	}

	// Другие view не делят ёмкость.
	if err := b.Set(ctx, ViewBrandByID, "1", []byte("y")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := b.Len(ViewProductByID); got != 3 {
		t.Fatalf("views must not share capacity, got %d", got)
	}
}

func TestLocalBackend_TTL(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(10, 30*time.Millisecond)

	if err := b.Set(ctx, ViewBrands, KeyAll, []byte("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, ViewBrands, KeyAll); !ok {
		t.Fatal("expected fresh entry")
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok, _ := b.Get(ctx, ViewBrands, KeyAll); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestLocalBackend_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(0, 0)

	_ = b.Set(ctx, ViewBrandByName, "A", []byte("a"))
	_ = b.Set(ctx, ViewBrandByName, "B", []byte("b"))

	_ = b.Delete(ctx, ViewBrandByName, "A")
	if _, ok, _ := b.Get(ctx, ViewBrandByName, "A"); ok {
		t.Fatal("expected deleted key to be absent")
	}
	if _, ok, _ := b.Get(ctx, ViewBrandByName, "B"); !ok {
		t.Fatal("expected other key to stay")
	}

	_ = b.Clear(ctx, ViewBrandByName)
	if b.Len(ViewBrandByName) != 0 {
		t.Fatal("expected empty view after clear")
	}

	if _, ok, err := b.Get(ctx, View("unknown"), "k"); ok || err != nil {
		t.Fatalf("unknown view must be a miss, got ok=%v err=%v", ok, err)
	}
}

func TestLocalBackend_InvalidationBumpsGeneration(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(0, 0)

	gen, _ := b.Generation(ctx, ViewBrands)
	_ = b.Delete(ctx, ViewBrandByName, "A")
	if other, _ := b.Generation(ctx, ViewBrands); other != gen {
		t.Fatalf("delete in another view must not bump generation: %d != %d", other, gen)
	}

	_ = b.Clear(ctx, ViewBrands)
	stored, err := b.SetIfGeneration(ctx, ViewBrands, KeyAll, []byte("stale"), gen)
	if err != nil || stored {
		t.Fatalf("expected stale write to be rejected, stored=%v err=%v", stored, err)
	}
	if _, ok, _ := b.Get(ctx, ViewBrands, KeyAll); ok {
		t.Fatal("stale value must not be visible")
	}

	fresh, _ := b.Generation(ctx, ViewBrands)
	stored, err = b.SetIfGeneration(ctx, ViewBrands, KeyAll, []byte("fresh"), fresh)
	if err != nil || !stored {
		t.Fatalf("expected write at current generation, stored=%v err=%v", stored, err)
	}
	if raw, ok, _ := b.Get(ctx, ViewBrands, KeyAll); !ok || string(raw) != "fresh" {
		t.Fatalf("unexpected value %q ok=%v", raw, ok)
	}
}
