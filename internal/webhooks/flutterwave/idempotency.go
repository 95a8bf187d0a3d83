package flutterwavewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/storehubhq/storehub-backend/pkg/redis"
)

// IdempotencyGuard dedupes webhook deliveries via redis. Events are marked
// only after handling succeeds, so a crash mid-processing leaves the delivery
// unmarked and the gateway's retry reprocesses it.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// Seen reports whether the event has already been fully handled.
func (g *IdempotencyGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	if _, err := g.store.Get(ctx, key); err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get idempotency key: %w", err)
	}
	return true, nil
}

// Mark records the event as handled.
func (g *IdempotencyGuard) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	if _, err := g.store.SetNX(ctx, key, "1", g.ttl); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}
