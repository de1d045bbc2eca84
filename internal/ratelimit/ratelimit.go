// Package ratelimit enforces per-client sliding-window request limits. State
// lives in a Store so that several server instances can share it.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Rule allows Limit requests per Window for each client.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Limits applied to the public endpoints.
var (
	Predict      = Rule{Name: "predict", Limit: 5, Window: time.Minute}
	SearchGene   = Rule{Name: "search_gene", Limit: 5, Window: time.Minute}
	AskQuestion  = Rule{Name: "ask_question", Limit: 20, Window: time.Minute}
	Download     = Rule{Name: "download_abstracts", Limit: 3, Window: 5 * time.Minute}
	GeneAnalysis = Rule{Name: "gene_analysis", Limit: 5, Window: time.Minute}
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store records a request for key under rule and reports whether it fits.
// Rejected requests are not recorded.
type Store interface {
	Allow(ctx context.Context, key string, rule Rule, now time.Time) (Decision, error)
}

// MemoryStore keeps a timestamp log per key. It serves one process only.
// Keys whose log has aged out are dropped, on access and by a periodic sweep.
type MemoryStore struct {
	mu    sync.Mutex
	log   map[string]*window
	calls int
}

type window struct {
	times []time.Time
	span  time.Duration
}

// sweepEvery is how many Allow calls pass between idle-key sweeps.
const sweepEvery = 256

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{log: make(map[string]*window)}
}

func (s *MemoryStore) Allow(_ context.Context, key string, rule Rule, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%sweepEvery == 0 {
		s.sweep(now)
	}

	w := s.log[key]
	if w == nil {
		w = &window{}
	}
	w.span = rule.Window
	cutoff := now.Add(-rule.Window)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(kept) >= rule.Limit {
		if len(kept) == 0 {
			delete(s.log, key)
			return Decision{RetryAfter: rule.Window}, nil
		}
		s.log[key] = w
		return Decision{RetryAfter: kept[0].Add(rule.Window).Sub(now)}, nil
	}
	w.times = append(kept, now)
	s.log[key] = w
	return Decision{Allowed: true, Remaining: rule.Limit - len(w.times)}, nil
}

// sweep drops every key with no timestamp inside its window. Callers hold mu.
func (s *MemoryStore) sweep(now time.Time) {
	for key, w := range s.log {
		if len(w.times) == 0 || !w.times[len(w.times)-1].After(now.Add(-w.span)) {
			delete(s.log, key)
		}
	}
}

// Middleware limits requests per client IP. Store failures are logged and
// the request is let through.
func Middleware(store Store, rule Rule, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := rule.Name + ":" + c.ClientIP()
		d, err := store.Allow(c.Request.Context(), key, rule, time.Now())
		if err != nil {
			logger.Error("rate limit store failed; allowing request", zap.String("rule", rule.Name), zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			secs := int(d.RetryAfter.Round(time.Second) / time.Second)
			c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
			logger.Info("rate limit exceeded", zap.String("rule", rule.Name), zap.String("client", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Please try again later."})
			return
		}
		c.Next()
	}
}
