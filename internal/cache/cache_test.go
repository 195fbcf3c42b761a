package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func exercise(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get(missing) = %v, want ErrMiss", err)
	}

	type quote struct {
		Out string `json:"out"`
	}
	if err := SetJSON(ctx, c, "q", quote{Out: "42"}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got quote
	if err := GetJSON(ctx, c, "q", &got); err != nil || got.Out != "42" {
		t.Fatalf("GetJSON = %+v, %v", got, err)
	}

	ok, err := c.Acquire(ctx, "REF1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	ok, err = c.Acquire(ctx, "REF1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second Acquire = %v, %v", ok, err)
	}
	if err := c.Release(ctx, "REF1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	ok, _ = c.Acquire(ctx, "REF1", time.Minute)
	if !ok {
		t.Fatal("Acquire after Release should succeed")
	}
}

func TestMemoryCache(t *testing.T) {
	exercise(t, NewMemory())
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	_ = m.Set(context.Background(), "k", []byte("v"), time.Second)
	now = now.Add(2 * time.Second)
	if _, err := m.Get(context.Background(), "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expired Get = %v", err)
	}
	ok, _ := m.Acquire(context.Background(), "k", time.Second)
	if !ok {
		t.Fatal("expired key should be acquirable")
	}
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	r, err := NewRedis(context.Background(), url, "solpos-test:")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()
	_ = r.Release(context.Background(), "REF1")
	exercise(t, r)
}
