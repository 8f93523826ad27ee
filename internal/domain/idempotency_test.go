package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordFinishedAndExpired(t *testing.T) {
	now := time.Now().UTC()

	processing := IdempotencyRecord{Status: IdempotencyStatusProcessing, TTLAt: now.Add(time.Hour)}
	if processing.Finished() {
		t.Fatal("processing record must not be finished")
	}
	if processing.Expired(now) {
		t.Fatal("record with future ttl must not be expired")
	}

	done := IdempotencyRecord{Status: IdempotencyStatusDone, TTLAt: now}
	if !done.Finished() {
		t.Fatal("done record must be finished")
	}
	if !done.Expired(now) {
		t.Fatal("record with ttl == now must be expired")
	}

	if (IdempotencyRecord{}).Expired(now) {
		t.Fatal("record without ttl must not be expired")
	}
}

func TestNewIdempotencyRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record, err := NewIdempotencyRecord("  import-brands-1 ", " hash ", time.Time{}, now)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if record.Key != "import-brands-1" || record.RequestHash != "hash" {
		t.Fatalf("key and hash must be trimmed, got %q %q", record.Key, record.RequestHash)
	}
	if record.Status != IdempotencyStatusProcessing {
		t.Fatalf("expected processing, got %s", record.Status)
	}
	if !record.TTLAt.Equal(now.Add(DefaultIdempotencyTTL)) {
		t.Fatalf("zero ttl must default to %s, got %s", DefaultIdempotencyTTL, record.TTLAt.Sub(now))
	}

	if _, err := NewIdempotencyRecord(" ", "hash", now, now); err != ErrIdempotencyKeyRequired {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := NewIdempotencyRecord("key", "", now, now); err != ErrIdempotencyRequestHashRequired {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRecordConflict(t *testing.T) {
	record := IdempotencyRecord{Key: "create-brand-J", RequestHash: "hash-a"}

	if err := record.Conflict("hash-a"); err != ErrIdempotencyKeyAlreadyExists {
		t.Fatalf("same payload must be a replay, got %v", err)
	}
	if err := record.Conflict("hash-b"); err != ErrIdempotencyHashMismatch {
		t.Fatalf("different payload must be a mismatch, got %v", err)
	}
}
