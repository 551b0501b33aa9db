// Package exchange defines the narrow capabilities the core consumes from
// exchange connectivity. The core never touches an SDK directly; it is fed
// typed channels and returns typed responses, so tests can drive it with a
// synthetic finite sequence.
package exchange

import (
	"context"

	"latencyflow/models"
)

// FundingFeed delivers all-market funding rate updates. Updates arrive in
// batches, one batch per upstream tick, until ctx is cancelled.
type FundingFeed interface {
	SubscribeFunding(ctx context.Context) (<-chan []models.FundingUpdate, error)
}

// SessionFeed delivers the per-symbol book ticker and aggregated trade
// stream consumed by a capture session. The channel is closed when the
// subscription ends; callers stamp arrival time synchronously on receipt.
type SessionFeed interface {
	SubscribeSession(ctx context.Context, symbol string) (<-chan models.SessionEvent, error)
}

// IntervalProvider resolves funding interval hours per symbol out-of-band.
type IntervalProvider interface {
	FetchIntervalInfo(ctx context.Context) (map[string]int, error)
}

// OrderGateway issues the single timed action. Send and receive timestamps
// are taken by the caller around this call.
type OrderGateway interface {
	MarketSell(ctx context.Context, symbol, quantity string) (models.OrderAck, error)
}

// TimeProvider reports the exchange's server clock in epoch milliseconds.
type TimeProvider interface {
	ServerTime(ctx context.Context) (int64, error)
}
