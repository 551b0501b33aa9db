package binance

import (
	"context"
	"encoding/json"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
)

// Keepalive cadence below the 60 minute listen key expiry.
const userDataKeepalive = 50 * time.Minute

// SubscribeUserData starts the authenticated user-data stream and invokes
// handler with the raw JSON of each event. A background loop keeps the
// listen key alive until ctx is cancelled.
func (c *Client) SubscribeUserData(ctx context.Context, handler func(raw []byte)) error {
	log := c.log.WithComponent("binance_user_data")

	listenKey, err := c.rest.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return err
	}

	wsHandler := func(event *futures.WsUserDataEvent) {
		raw, err := json.Marshal(event)
		if err != nil {
			log.WithError(err).Warn("failed to marshal user data event")
			return
		}
		handler(raw)
	}

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("user data stream error")
		}
	}

	doneC, stopC, err := futures.WsUserDataServe(listenKey, wsHandler, errHandler)
	if err != nil {
		return err
	}

	log.Info("user data stream connected")

	go func() {
		ticker := time.NewTicker(userDataKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(stopC)
				<-doneC
				return
			case <-doneC:
				return
			case <-ticker.C:
				if err := c.rest.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
					log.WithError(err).Warn("user data keepalive failed")
				} else {
					log.Debug("sent user data keepalive")
				}
			}
		}
	}()

	return nil
}
