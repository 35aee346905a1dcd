package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"option-scalp-bot/internal/state"
	"option-scalp-bot/internal/venue"

	"go.uber.org/zap"
)

// Placer is the slice of a venue adapter the executor needs. Both the
// perp and spot adapters satisfy it.
type Placer interface {
	PlaceOrder(ctx context.Context, order venue.Order) (string, error)
	CancelAll(ctx context.Context, symbol string) error
}

// Executor submits orders with bounded retry and an idempotency cache
// keyed by client order id, so a crash between submit and persist never
// doubles an order.
type Executor struct {
	venues map[venue.Kind]Placer
	store  state.Store
	log    *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func New(perp, spot Placer, store state.Store, log *zap.Logger) *Executor {
	venues := make(map[venue.Kind]Placer)
	if perp != nil {
		venues[venue.KindPerp] = perp
	}
	if spot != nil {
		venues[venue.KindSpot] = spot
	}
	return &Executor{
		venues: venues,
		store:  store,
		log:    log,
		cache:  make(map[string]string),
	}
}

func (e *Executor) Place(ctx context.Context, order venue.Order) (string, error) {
	target, ok := e.venues[order.Venue]
	if !ok {
		return "", fmt.Errorf("no adapter for venue %s", order.Venue)
	}
	if order.ClientOrderID == "" {
		return e.placeWithRetry(ctx, target, order)
	}
	cacheKey := "cloid:" + order.ClientOrderID
	e.mu.Lock()
	if oid, hit := e.cache[cacheKey]; hit {
		e.mu.Unlock()
		return oid, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if oid, hit, err := e.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if hit {
			e.remember(cacheKey, oid)
			return oid, nil
		}
	}
	orderID, err := e.placeWithRetry(ctx, target, order)
	if err != nil {
		return "", err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, orderID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.remember(cacheKey, orderID)
	return orderID, nil
}

func (e *Executor) CancelAll(ctx context.Context, kind venue.Kind, symbol string) error {
	target, ok := e.venues[kind]
	if !ok {
		return fmt.Errorf("no adapter for venue %s", kind)
	}
	return e.retry(ctx, func() error {
		return target.CancelAll(ctx, symbol)
	})
}

func (e *Executor) remember(key, orderID string) {
	e.mu.Lock()
	e.cache[key] = orderID
	e.mu.Unlock()
}

func (e *Executor) placeWithRetry(ctx context.Context, target Placer, order venue.Order) (string, error) {
	var orderID string
	err := e.retry(ctx, func() error {
		var err error
		orderID, err = target.PlaceOrder(ctx, order)
		return err
	})
	if err != nil {
		return "", err
	}
	if orderID == "" {
		return "", errors.New("empty order id")
	}
	return orderID, nil
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		if err := fn(); err != nil {
			if attempt == 4 {
				return fmt.Errorf("retry failed: %w", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
			continue
		}
		return nil
	}
	return nil
}
