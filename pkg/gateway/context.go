package gateway

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

type idempotencyKeyCtx struct{}

// IdempotencyKey builds the key sent with mutating calls: "{op}:{id}:{version}".
// The version is the record version the operation was dispatched against, so a
// retried call for the same transition reuses the key.
func IdempotencyKey(op, id string, version uint64) string {
	return op + ":" + id + ":" + strconv.FormatUint(version, 10)
}

// WithIdempotencyKey attaches key to ctx for adapters to forward.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKeyFromContext returns the key attached by WithIdempotencyKey.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyCtx{}).(string)
	return key, ok && key != ""
}

// IdempotencyKeyExtractor adds the idempotency key to every log record emitted
// with a context that carries one.
func IdempotencyKeyExtractor(ctx context.Context) (slog.Attr, bool) {
	key, ok := IdempotencyKeyFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return logger.IdempotencyKey(key), true
}
