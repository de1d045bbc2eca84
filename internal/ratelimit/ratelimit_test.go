package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestMemoryStoreSlidingWindow(t *testing.T) {
	s := NewMemoryStore()
	rule := Rule{Name: "t", Limit: 2, Window: time.Minute}
	start := time.Unix(1_700_000_000, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, _ := s.Allow(ctx, "k", rule, start.Add(time.Duration(i)*time.Second))
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	d, _ := s.Allow(ctx, "k", rule, start.Add(10*time.Second))
	if d.Allowed {
		t.Fatal("third request inside the window should be rejected")
	}
	if d.RetryAfter != 50*time.Second {
		t.Fatalf("expected retry after 50s, got %v", d.RetryAfter)
	}
	if d, _ := s.Allow(ctx, "other", rule, start.Add(10*time.Second)); !d.Allowed {
		t.Fatal("keys must be independent")
	}
	if d, _ := s.Allow(ctx, "k", rule, start.Add(61*time.Second)); !d.Allowed {
		t.Fatal("oldest request should have left the window")
	}
}

func TestMemoryStoreForgetsIdleClients(t *testing.T) {
	s := NewMemoryStore()
	rule := Rule{Name: "t", Limit: 2, Window: time.Minute}
	start := time.Unix(1_700_000_000, 0)
	ctx := context.Background()

	for i := 0; i < sweepEvery-1; i++ {
		s.Allow(ctx, fmt.Sprintf("client-%d", i), rule, start)
	}
	if len(s.log) != sweepEvery-1 {
		t.Fatalf("expected %d tracked clients, got %d", sweepEvery-1, len(s.log))
	}
	if d, _ := s.Allow(ctx, "fresh", rule, start.Add(2*time.Minute)); !d.Allowed {
		t.Fatal("fresh client should be allowed")
	}
	if len(s.log) != 1 {
		t.Fatalf("idle clients should be swept, %d keys remain", len(s.log))
	}

	if d, _ := s.Allow(ctx, "blocked", Rule{Name: "t", Limit: 0, Window: time.Minute}, start); d.Allowed || d.RetryAfter != time.Minute {
		t.Fatalf("zero limit should reject with a full window, got %+v", d)
	}
	if _, ok := s.log["blocked"]; ok {
		t.Fatal("a key with an empty log must not be stored")
	}
}

func newRouter(store Store, rule Rule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", Middleware(store, rule, nil), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	r := newRouter(NewMemoryStore(), Rule{Name: "x", Limit: 1, Window: time.Minute})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, Rule, time.Time) (Decision, error) {
	return Decision{}, errors.New("down")
}

func TestMiddlewareFailsOpen(t *testing.T) {
	r := newRouter(failingStore{}, Predict)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("store errors should not block requests, got %d", w.Code)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	rule := Rule{Name: "t", Limit: 1, Window: time.Minute}
	now := time.Now()

	if d, err := s.Allow(ctx, key, rule, now); err != nil || !d.Allowed {
		t.Fatalf("first request: %+v %v", d, err)
	}
	if d, err := s.Allow(ctx, key, rule, now.Add(time.Second)); err != nil || d.Allowed {
		t.Fatalf("second request should be rejected: %+v %v", d, err)
	}
}
