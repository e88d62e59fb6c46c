// Package ingest consumes confirmed-transaction events from the message
// broker, persists them and pushes them to live subscribers.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chainscope/txgate/internal/cache"
	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/storage"
)

// Invalidator drops cached entries that a new transaction makes stale.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// Broadcaster pushes a transaction to live subscribers.
type Broadcaster interface {
	Broadcast(tx *storage.Transaction)
}

// Processor applies one confirmed transaction: persist, invalidate, notify.
type Processor struct {
	store       storage.Store
	invalidator Invalidator
	broadcaster Broadcaster
	logger      observability.Logger
}

// NewProcessor wires the ingest pipeline stages. invalidator and broadcaster
// may be nil when the corresponding stage is disabled.
func NewProcessor(store storage.Store, invalidator Invalidator, broadcaster Broadcaster,
	logger observability.Logger) *Processor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Processor{
		store:       store,
		invalidator: invalidator,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// DetailCacheKey is the cache key of a single-transaction read.
func DetailCacheKey(signature string) string {
	return cache.RequestKey("/api/v1/transactions/"+signature, nil)
}

// Process persists the transaction, invalidates its detail cache entry and
// broadcasts it. Storage failure aborts; invalidation failure is logged and
// the broadcast still goes out, stale cache entries age out via their TTL.
func (p *Processor) Process(ctx context.Context, tx *storage.Transaction) error {
	if tx.Signature == "" {
		return fmt.Errorf("transaction without signature")
	}

	if err := p.store.Insert(ctx, tx); err != nil {
		return fmt.Errorf("persist transaction %s: %w", tx.Signature, err)
	}

	if p.invalidator != nil {
		if err := p.invalidator.Invalidate(ctx, DetailCacheKey(tx.Signature)); err != nil {
			p.logger.Warn("cache invalidation failed",
				observability.String("signature", tx.Signature),
				observability.Error(err))
		}
	}

	if p.broadcaster != nil {
		p.broadcaster.Broadcast(tx)
	}

	ingestProcessedTotal.WithLabelValues("ok").Inc()
	return nil
}

// decodeTransaction parses a broker message body.
func decodeTransaction(body []byte) (*storage.Transaction, error) {
	var tx storage.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction event: %w", err)
	}
	if tx.Signature == "" {
		return nil, fmt.Errorf("transaction event without signature")
	}
	return &tx, nil
}
