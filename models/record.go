package models

import "time"

// FundingUpdate is one mark-price tick carrying the current funding rate
// for a symbol. Batches arrive on the funding feed roughly once per second.
type FundingUpdate struct {
	Exchange    string  `json:"exchange"`
	Symbol      string  `json:"symbol"`
	Rate        float64 `json:"rate"`
	EventTimeMs int64   `json:"event_time_ms"`
	NextFunding int64   `json:"next_funding_ms"`
}

// BookTicker is a best bid/ask snapshot from the per-symbol session feed.
// Prices and quantities stay as the exchange's decimal strings so the
// capture log reproduces them byte for byte.
type BookTicker struct {
	Symbol      string `json:"s"`
	UpdateID    int64  `json:"u"`
	EventTimeMs int64  `json:"E"`
	TransactMs  int64  `json:"T"`
	BidPrice    string `json:"b"`
	BidQty      string `json:"B"`
	AskPrice    string `json:"a"`
	AskQty      string `json:"A"`
}

// AggTrade is an aggregated trade from the per-symbol session feed.
type AggTrade struct {
	Symbol      string `json:"s"`
	EventTimeMs int64  `json:"E"`
	TradeTimeMs int64  `json:"T"`
	Price       string `json:"p"`
	Quantity    string `json:"q"`
}

// SessionEvent is the union of record kinds delivered by a session feed.
// Exactly one of Book and Trade is set.
type SessionEvent struct {
	Book  *BookTicker
	Trade *AggTrade
}

// OrderAck is the exchange response to a timed order. Send and receive
// timestamps are taken by the caller around the request so queueing inside
// the adapter never skews the measured round trip.
type OrderAck struct {
	OrderID       int64  `json:"order_id"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ClientOrderID string `json:"client_order_id"`
}

// SessionMeta describes one capture session for status reporting.
type SessionMeta struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	FundingRate float64   `json:"funding_rate"`
	IntervalH   int       `json:"interval_hours"`
	StartTime   time.Time `json:"start_time"`
	Duration    int       `json:"duration_seconds"`
	LogPath     string    `json:"log_path"`
}
