package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"context"

	"latencyflow/logger"
	"latencyflow/models"

	"github.com/gorilla/websocket"
)

const sessionReadTimeout = 90 * time.Second

// combinedEnvelope is the frame shape of /stream?streams=... subscriptions.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// SubscribeSession opens one raw websocket carrying both the book ticker and
// the aggregated trade stream for a symbol. A single connection keeps the
// arrival order of the two streams intact, which the capture pipeline relies
// on. The returned channel closes on ctx cancellation or stream error.
func (c *Client) SubscribeSession(ctx context.Context, symbol string) (<-chan models.SessionEvent, error) {
	log := c.log.WithComponent("binance_session_feed").WithFields(logger.Fields{"symbol": symbol})

	lower := strings.ToLower(symbol)
	wsURL := fmt.Sprintf("%s/stream?streams=%s@bookTicker/%s@aggTrade", c.streamURL, lower, lower)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial session stream: %w", err)
	}

	log.Info("session stream connected")

	out := make(chan models.SessionEvent, 1024)

	// The reader goroutine owns the connection; cancellation closes it,
	// which unblocks ReadMessage.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer conn.Close()

		for {
			conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("session stream read error")
				}
				return
			}

			ev, ok := decodeSessionMessage(msg)
			if !ok {
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			default:
				log.Warn("session event channel full, dropping message")
				logger.IncrementRecordDropped()
			}
		}
	}()

	return out, nil
}

// decodeSessionMessage unwraps a combined-stream frame into a typed event.
// Unknown or malformed frames are skipped.
func decodeSessionMessage(msg []byte) (models.SessionEvent, bool) {
	var env combinedEnvelope
	if err := json.Unmarshal(msg, &env); err != nil || len(env.Data) == 0 {
		return models.SessionEvent{}, false
	}

	var probe struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(env.Data, &probe); err != nil {
		return models.SessionEvent{}, false
	}

	switch probe.Event {
	case "bookTicker":
		var book models.BookTicker
		if err := json.Unmarshal(env.Data, &book); err != nil {
			return models.SessionEvent{}, false
		}
		return models.SessionEvent{Book: &book}, true
	case "aggTrade":
		var trade models.AggTrade
		if err := json.Unmarshal(env.Data, &trade); err != nil {
			return models.SessionEvent{}, false
		}
		return models.SessionEvent{Trade: &trade}, true
	default:
		return models.SessionEvent{}, false
	}
}
