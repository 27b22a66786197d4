package stripewebhook

import (
	"context"
	"testing"
	"time"
)

type fakeIdempotencyStore struct {
	keys map[string]string
	err  error
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{keys: map[string]string{}}
}

func (f *fakeIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	return f.keys[key], f.err
}

func (f *fakeIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, exists := f.keys[key]; exists {
		return false, nil
	}
	f.keys[key] = "1"
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "cl:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	if f.err != nil {
		return f.err
	}
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func TestIdempotencyGuardMarksFirstDelivery(t *testing.T) {
	guard, err := NewIdempotencyGuard(newFakeIdempotencyStore(), time.Hour, IdempotencyScope)
	if err != nil {
		t.Fatalf("setup guard: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("check and mark: %v", err)
	}
	if seen {
		t.Fatal("first delivery must not be a duplicate")
	}

	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("check and mark: %v", err)
	}
	if !seen {
		t.Fatal("second delivery must be a duplicate")
	}
}

func TestIdempotencyGuardDeleteAllowsRetry(t *testing.T) {
	store := newFakeIdempotencyStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, IdempotencyScope)
	if err != nil {
		t.Fatalf("setup guard: %v", err)
	}

	if _, err := guard.CheckAndMark(context.Background(), "evt_1"); err != nil {
		t.Fatalf("check and mark: %v", err)
	}
	if err := guard.Delete(context.Background(), "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("check and mark: %v", err)
	}
	if seen {
		t.Fatal("deleted mark must allow the retry through")
	}
}

func TestNewIdempotencyGuardValidates(t *testing.T) {
	if _, err := NewIdempotencyGuard(nil, time.Hour, IdempotencyScope); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewIdempotencyGuard(newFakeIdempotencyStore(), time.Hour, ""); err == nil {
		t.Fatal("expected error for empty scope")
	}
	if _, err := NewIdempotencyGuard(newFakeIdempotencyStore(), -time.Second, IdempotencyScope); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}
