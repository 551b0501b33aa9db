package binance

import (
	"context"
	"strconv"

	"latencyflow/logger"
	"latencyflow/models"

	futures "github.com/adshao/go-binance/v2/futures"
)

// SubscribeFunding attaches to the all-market mark price stream and forwards
// each tick as a batch of funding updates. The channel is closed when the
// stream ends or ctx is cancelled.
func (c *Client) SubscribeFunding(ctx context.Context) (<-chan []models.FundingUpdate, error) {
	log := c.log.WithComponent("binance_funding_feed")

	out := make(chan []models.FundingUpdate, 64)

	handler := func(event futures.WsAllMarkPriceEvent) {
		batch := make([]models.FundingUpdate, 0, len(event))
		for _, e := range event {
			if e == nil || e.Symbol == "" {
				continue
			}
			rate, err := strconv.ParseFloat(e.FundingRate, 64)
			if err != nil {
				// Symbols without a funding rate publish an empty string.
				continue
			}
			batch = append(batch, models.FundingUpdate{
				Exchange:    "binance",
				Symbol:      e.Symbol,
				Rate:        rate,
				EventTimeMs: e.Time,
				NextFunding: e.NextFundingTime,
			})
		}
		if len(batch) == 0 {
			return
		}
		select {
		case out <- batch:
			logger.IncrementFundingUpdate(len(batch))
		case <-ctx.Done():
		default:
			log.Warn("funding update channel full, dropping batch")
		}
	}

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("mark price stream error")
		}
	}

	doneC, stopC, err := futures.WsAllMarkPriceServe(handler, errHandler)
	if err != nil {
		return nil, err
	}

	log.Info("subscribed to all-market mark price stream")

	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
		case <-doneC:
		}
		log.Info("mark price stream closed")
	}()

	return out, nil
}
