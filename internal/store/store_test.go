package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"smar/scraper-service/internal/store"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisStore_SetGet(t *testing.T) {
	mr, rdb := newRedis(t)
	s := store.NewRedisStore(rdb, store.CachePrefix)
	ctx := context.Background()

	if err := s.Set(ctx, "play:search:us:x:false:", []byte(`{"a":1}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(ctx, "play:search:us:x:false:")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get = %s", got)
	}
	if !mr.Exists("cache:play:search:us:x:false:") {
		t.Error("key must be stored under the cache prefix")
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	mr, rdb := newRedis(t)
	s := store.NewRedisStore(rdb, store.ResultPrefix)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), store.DefaultResultTTL); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(store.DefaultResultTTL - time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("entry expired before its TTL")
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("entry still present after its TTL")
	}
}

func TestRedisStore_PrefixesAreIsolated(t *testing.T) {
	_, rdb := newRedis(t)
	cache := store.NewRedisStore(rdb, store.CachePrefix)
	results := store.NewRedisStore(rdb, store.ResultPrefix)
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("cached"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := results.Get(ctx, "k"); ok {
		t.Error("result store must not see cache keys")
	}
}

func TestRedisStore_Delete(t *testing.T) {
	_, rdb := newRedis(t)
	s := store.NewRedisStore(rdb, store.CachePrefix)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), time.Hour)
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("key still present after Delete")
	}
}

func TestRedisStore_BackendFailureIsStoreError(t *testing.T) {
	mr, rdb := newRedis(t)
	s := store.NewRedisStore(rdb, store.CachePrefix)
	mr.SetError("READONLY down")

	_, _, err := s.Get(context.Background(), "k")
	var se *store.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StoreError, got %v", err)
	}
	if se.Op != "get" || se.Key != "k" {
		t.Errorf("StoreError = %+v", se)
	}
}

func TestJSONHelpers(t *testing.T) {
	_, rdb := newRedis(t)
	s := store.NewRedisStore(rdb, store.CachePrefix)
	ctx := context.Background()

	type payload struct {
		N int `json:"n"`
	}
	if err := store.SetJSON(ctx, s, "k", payload{N: 3}, time.Hour); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got payload
	ok, err := store.GetJSON(ctx, s, "k", &got)
	if err != nil || !ok || got.N != 3 {
		t.Errorf("GetJSON = %+v ok=%v err=%v", got, ok, err)
	}
	ok, err = store.GetJSON(ctx, s, "missing", &got)
	if err != nil || ok {
		t.Errorf("GetJSON(missing) ok=%v err=%v", ok, err)
	}
}
