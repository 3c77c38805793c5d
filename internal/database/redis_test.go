package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func installStubRedis(t *testing.T, pingErr error) *redis.Options {
	t.Helper()
	origNew, origPing := newRedisClient, redisPing
	t.Cleanup(func() { newRedisClient, redisPing = origNew, origPing })

	got := &redis.Options{}
	newRedisClient = func(opts *redis.Options) *redis.Client {
		*got = *opts
		return &redis.Client{}
	}
	redisPing = func(ctx context.Context, client *redis.Client) error {
		return pingErr
	}
	return got
}

func TestNewRedisDB_PingError(t *testing.T) {
	installStubRedis(t, errors.New("ping failed"))

	if _, err := NewRedisDB("localhost:6379", "pass", 2); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestNewRedisDB_Options(t *testing.T) {
	got := installStubRedis(t, nil)

	db, err := NewRedisDB("redis:6379", "pass", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.Client == nil {
		t.Fatal("expected client")
	}

	want := redis.Options{
		Addr:         "redis:6379",
		Password:     "pass",
		DB:           2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 3,
	}
	if got.Addr != want.Addr || got.Password != want.Password || got.DB != want.DB {
		t.Fatalf("unexpected connection options %+v", got)
	}
	if got.DialTimeout != want.DialTimeout || got.ReadTimeout != want.ReadTimeout || got.WriteTimeout != want.WriteTimeout {
		t.Fatalf("unexpected timeouts %v/%v/%v", got.DialTimeout, got.ReadTimeout, got.WriteTimeout)
	}
	if got.PoolSize != want.PoolSize || got.MinIdleConns != want.MinIdleConns {
		t.Fatalf("unexpected pool options %d/%d", got.PoolSize, got.MinIdleConns)
	}
}

func TestRedisDB_Health(t *testing.T) {
	installStubRedis(t, errors.New("health failed"))
	db := &RedisDB{Client: &redis.Client{}}
	if err := db.Health(context.Background()); err == nil {
		t.Fatal("expected health error")
	}

	installStubRedis(t, nil)
	if err := db.Health(context.Background()); err != nil {
		t.Fatalf("unexpected health error: %v", err)
	}
}

func TestRedisDB_Close(t *testing.T) {
	if err := (&RedisDB{}).Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	db := &RedisDB{Client: redis.NewClient(&redis.Options{Addr: "localhost:0"})}
	if err := db.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}
