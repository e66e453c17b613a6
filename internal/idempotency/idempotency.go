// Package idempotency deduplicates client-retried mutating requests keyed by
// an opaque Idempotency-Key header. The first writer executes and records its
// response; replays of the same key get that response back verbatim.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidKey rejects a blank idempotency key at the store boundary.
var ErrInvalidKey = errors.New("invalid idempotency key")

// Outcome reports one GetOrReserve call. When Replay is true the stored
// response must be returned without re-executing the operation; otherwise
// the caller holds the reservation and must eventually Complete it.
type Outcome struct {
	Replay     bool
	StatusCode int
	Response   json.RawMessage
}

// Store is the persistence contract. GetOrReserve must be first writer wins
// on the key. A reservation that was never completed does not replay: the
// caller crashed before recording a response, so the retried request
// re-executes and the eventual Complete fills the record in.
type Store interface {
	GetOrReserve(ctx context.Context, key string, atUnixUTC int64) (Outcome, error)
	Complete(ctx context.Context, key string, statusCode int, response json.RawMessage) error
}
