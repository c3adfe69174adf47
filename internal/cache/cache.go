// Package cache memoizes idempotent outbound calls behind a key/value store
// with per-entry expiry.
//
// The strategy is fixed when the cache is opened: if the backing store
// cannot be opened, Open returns a pass-through Memoizer that computes every
// call and never stores anything.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	NamespaceWeb    = "web"
	NamespacePatent = "patent"
	NamespaceVerify = "verify"

	SearchTTL = 10 * 24 * time.Hour
	VerifyTTL = 24 * time.Hour

	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendNone   = "none"
)

var ErrUnavailable = errors.New("cache store unavailable")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	PurgeExpired(ctx context.Context) (int64, error)
	Close() error
}

type ComputeFn func(ctx context.Context) ([]byte, error)

// Memoizer is the strategy every cache-eligible call goes through.
type Memoizer interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn ComputeFn) ([]byte, error)
	Enabled() bool
	Close() error
}

type Config struct {
	Backend string
	Path    string
}

// Open picks the caching strategy once. The returned Memoizer is always
// usable; a non-nil error explains why it is a pass-through.
func Open(cfg Config) (Memoizer, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendSQLite
	}
	var (
		store Store
		err   error
	)
	switch backend {
	case BackendNone:
		log.Printf("idea-sonar cache disabled by configuration; running pass-through")
		return PassThrough(), nil
	case BackendSQLite:
		store, err = OpenSQLiteStore(cfg.Path)
	case BackendBadger:
		store, err = OpenBadgerStore(cfg.Path, false)
	default:
		err = fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		log.Printf("idea-sonar cache unavailable backend=%s path=%q err=%q; running pass-through", backend, cfg.Path, err.Error())
		return PassThrough(), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Printf("idea-sonar cache ready backend=%s path=%q", backend, cfg.Path)
	return NewMemoizer(store), nil
}

type storeMemoizer struct {
	store Store
	now   func() time.Time
}

func NewMemoizer(store Store) Memoizer {
	return &storeMemoizer{store: store, now: time.Now}
}

func (m *storeMemoizer) Enabled() bool { return true }

func (m *storeMemoizer) Close() error { return m.store.Close() }

func (m *storeMemoizer) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn ComputeFn) ([]byte, error) {
	cached, ok, err := m.store.Get(ctx, key)
	if err != nil {
		log.Printf("idea-sonar cache read failed key=%s err=%q", shortKey(key), err.Error())
	} else if ok {
		return cached, nil
	}

	value, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, key, value, ttl); err != nil {
		log.Printf("idea-sonar cache write failed key=%s err=%q", shortKey(key), err.Error())
	}
	return value, nil
}

type passThrough struct{}

func PassThrough() Memoizer { return passThrough{} }

func (passThrough) Enabled() bool { return false }

func (passThrough) Close() error { return nil }

func (passThrough) GetOrCompute(ctx context.Context, _ string, _ time.Duration, fn ComputeFn) ([]byte, error) {
	return fn(ctx)
}

// Key hashes the namespace and the full parameter tuple. Any change to a
// parameter, including a policy or prompt version, yields a new key.
func Key(namespace string, params ...any) (string, error) {
	blob, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cache key params: %w", err)
	}
	sum := sha256.Sum256(append([]byte(namespace+"\x00"), blob...))
	return namespace + ":" + hex.EncodeToString(sum[:]), nil
}

// Do memoizes a typed computation. Values round-trip through JSON.
func Do[T any](ctx context.Context, m Memoizer, namespace string, ttl time.Duration, params []any, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	key, err := Key(namespace, params...)
	if err != nil {
		return zero, err
	}
	blob, err := m.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(blob, &out); err != nil {
		log.Printf("idea-sonar cache decode failed namespace=%s key=%s err=%q; recomputing", namespace, shortKey(key), err.Error())
		return fn(ctx)
	}
	return out, nil
}

func shortKey(key string) string {
	if len(key) > 24 {
		return key[:24]
	}
	return key
}
