package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestAllowUntilLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 10 * time.Second}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1", rule)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	ok, err := l.Allow(ctx, "u1", rule)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("request over limit should be denied")
	}
}

func TestWindowResets(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 5 * time.Second}

	if ok, _ := l.Allow(ctx, "u1", rule); !ok {
		t.Fatal("first request should be allowed")
	}
	if ok, _ := l.Allow(ctx, "u1", rule); ok {
		t.Fatal("second request should be denied")
	}

	mr.FastForward(6 * time.Second)

	if ok, _ := l.Allow(ctx, "u1", rule); !ok {
		t.Fatal("request after window reset should be allowed")
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 10 * time.Second}

	if ok, _ := l.Allow(ctx, "u1", rule); !ok {
		t.Fatal("u1 first request should be allowed")
	}
	if ok, _ := l.Allow(ctx, "u2", rule); !ok {
		t.Fatal("u2 must not share u1's window")
	}
}
