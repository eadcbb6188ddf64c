// Package idempotency replays the first response to a state-changing request
// that carries an Idempotency-Key header, backed by Redis.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/config"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"github.com/redis/go-redis/v9"
)

const (
	processing = "PROCESSING"
	lockTTL    = 10 * time.Second
	resultTTL  = 24 * time.Hour
)

// Store is the subset of Redis the middleware needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore connects to Redis and pings it once.
func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{Client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.Client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.Client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.Client.Del(ctx, key).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error { return s.Client.Close() }

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// recorder tees the response so it can be stored.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// Middleware replays stored responses for repeated keys. Keys are scoped to the
// caller and the route. Server errors release the key so the client may retry.
// A Redis outage lets requests through unprotected.
func Middleware(store Store, logger *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to state-changing methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			idemKey := fmt.Sprintf("idempotency:%s:%s:%s:%s", auth.IdentityFrom(ctx).String(), r.Method, r.URL.Path, key)

			val, found, err := store.Get(ctx, idemKey)
			if err != nil {
				logger.Warn(ctx, "idempotency_unavailable", "Idempotency store unavailable, passing request through", map[string]any{"error": err.Error()})
				next.ServeHTTP(w, r)
				return
			}
			if found {
				replay(w, val)
				return
			}

			acquired, err := store.SetNX(ctx, idemKey, processing, lockTTL)
			if err != nil || !acquired {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error":"concurrent request"}`))
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// detach from the request so the result is stored even if the client went away
			storeCtx := context.WithoutCancel(ctx)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			if rec.status >= 500 {
				_ = store.Del(storeCtx, idemKey)
				return
			}

			body := bytes.TrimSpace(rec.body.Bytes())
			if !json.Valid(body) {
				body, _ = json.Marshal(string(body))
			}
			raw, _ := json.Marshal(storedResponse{Status: rec.status, Body: body})
			if err := store.Set(storeCtx, idemKey, string(raw), resultTTL); err != nil {
				logger.Error(ctx, "idempotency_store_failed", "Failed to store idempotent response", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, val string) {
	w.Header().Set("X-Idempotency-Hit", "true")
	w.Header().Set("Content-Type", "application/json")

	var stored storedResponse
	if val == processing || json.Unmarshal([]byte(val), &stored) != nil {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"request already in progress"}`))
		return
	}
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}
