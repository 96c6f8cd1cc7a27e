package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/carelink/carelink/internal/platform/auth"
)

// DefaultIdempotencyTTL is how long a replayable response is kept.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyEntry is a cached response for a write request.
type IdempotencyEntry struct {
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

// IdempotencyStore persists replayable responses. Implementations must be
// safe for concurrent use.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*IdempotencyEntry, bool, error)
	Set(ctx context.Context, key string, entry *IdempotencyEntry) error
}

// MemoryIdempotencyStore is a size-bounded in-process store.
type MemoryIdempotencyStore struct {
	lru *expirable.LRU[string, *IdempotencyEntry]
}

func NewMemoryIdempotencyStore(size int, ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if size <= 0 {
		size = 10000
	}
	return &MemoryIdempotencyStore{lru: expirable.NewLRU[string, *IdempotencyEntry](size, nil, ttl)}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*IdempotencyEntry, bool, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	cp := *e
	cp.Headers = e.Headers.Clone()
	cp.Body = append([]byte(nil), e.Body...)
	return &cp, true, nil
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, entry *IdempotencyEntry) error {
	cp := *entry
	cp.Headers = entry.Headers.Clone()
	cp.Body = append([]byte(nil), entry.Body...)
	s.lru.Add(key, &cp)
	return nil
}

// RedisIdempotencyStore shares replayable responses across server instances.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client redis.UniversalClient, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyStore{client: client, prefix: "carelink:idem:", ttl: ttl}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyEntry, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	var e IdempotencyEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("idempotency decode: %w", err)
	}
	return &e, true, nil
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, entry *IdempotencyEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}

// IdempotencyConfig configures IdempotencyMiddleware.
type IdempotencyConfig struct {
	Store    IdempotencyStore
	OnReplay func(c echo.Context)
}

// Idempotency replays the stored response when a POST, PUT or PATCH repeats
// an Idempotency-Key (or X-Idempotency-Key) the same caller already used.
// Keys are scoped per user. Reusing a key for a different method or path is a
// 422, and a second request arriving while the first is still running gets a
// 409. Only 2xx responses are stored so a failed attempt can be retried.
func Idempotency(cfg IdempotencyConfig) echo.MiddlewareFunc {
	var inflight sync.Map

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			method := req.Method
			if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
				return next(c)
			}

			idempKey := req.Header.Get("Idempotency-Key")
			if idempKey == "" {
				idempKey = req.Header.Get("X-Idempotency-Key")
			}
			if idempKey == "" {
				return next(c)
			}
			if len(idempKey) > 255 {
				return echo.NewHTTPError(http.StatusBadRequest, "idempotency key too long")
			}

			ctx := req.Context()
			key := auth.UserIDFromContext(ctx) + ":" + idempKey
			path := req.URL.Path

			if cached, ok, err := cfg.Store.Get(ctx, key); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "idempotency store unavailable")
			} else if ok {
				if cached.Method != method || cached.Path != path {
					return echo.NewHTTPError(http.StatusUnprocessableEntity,
						"idempotency key was already used for a different operation")
				}
				if cfg.OnReplay != nil {
					cfg.OnReplay(c)
				}
				resp := c.Response()
				for k, vals := range cached.Headers {
					for _, v := range vals {
						resp.Header().Add(k, v)
					}
				}
				resp.Header().Set("X-Idempotency-Replayed", "true")
				resp.WriteHeader(cached.StatusCode)
				_, err := resp.Write(cached.Body)
				return err
			}

			if _, busy := inflight.LoadOrStore(key, struct{}{}); busy {
				return echo.NewHTTPError(http.StatusConflict, "a request with this idempotency key is in progress")
			}
			defer inflight.Delete(key)

			origWriter := c.Response().Writer
			rec := &idempotencyRecorder{
				ResponseWriter: origWriter,
				body:           &bytes.Buffer{},
				statusCode:     http.StatusOK,
				headers:        make(http.Header),
			}
			c.Response().Writer = rec

			err := next(c)
			c.Response().Writer = origWriter
			if err != nil {
				return err
			}

			if rec.statusCode >= 200 && rec.statusCode < 300 {
				entry := &IdempotencyEntry{
					Method:     method,
					Path:       path,
					StatusCode: rec.statusCode,
					Headers:    rec.headers.Clone(),
					Body:       rec.body.Bytes(),
					CreatedAt:  time.Now().UTC(),
				}
				// A lost cache write only costs the replay, not the request.
				_ = cfg.Store.Set(ctx, key, entry)
			}

			for k, vals := range rec.headers {
				for _, v := range vals {
					origWriter.Header().Add(k, v)
				}
			}
			origWriter.WriteHeader(rec.statusCode)
			_, err = origWriter.Write(rec.body.Bytes())
			return err
		}
	}
}

// idempotencyRecorder buffers the downstream response so it can be stored
// before it is written out.
type idempotencyRecorder struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	headers    http.Header
	wroteHead  bool
}

func (r *idempotencyRecorder) Header() http.Header {
	return r.headers
}

func (r *idempotencyRecorder) WriteHeader(code int) {
	if r.wroteHead {
		return
	}
	r.statusCode = code
	r.wroteHead = true
}

func (r *idempotencyRecorder) Write(b []byte) (int, error) {
	if !r.wroteHead {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}
