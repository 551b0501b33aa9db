package binance

import (
	"context"
	"time"

	"latencyflow/logger"
	"latencyflow/models"

	futures "github.com/adshao/go-binance/v2/futures"
)

// FetchIntervalInfo returns the funding interval in hours for every symbol
// the exchange reports one for.
func (c *Client) FetchIntervalInfo(ctx context.Context) (map[string]int, error) {
	log := c.log.WithComponent("binance_adapter").WithFields(logger.Fields{"operation": "fetch_interval_info"})

	start := time.Now()
	info, err := c.rest.NewFundingRateInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "binance_adapter", "api_request", time.Since(start), nil)

	intervals := make(map[string]int, len(info))
	for _, item := range info {
		if item == nil || item.Symbol == "" || item.FundingIntervalHours <= 0 {
			continue
		}
		intervals[item.Symbol] = int(item.FundingIntervalHours)
	}

	log.WithFields(logger.Fields{"symbols": len(intervals)}).Debug("fetched funding interval info")
	return intervals, nil
}

// ServerTime returns the exchange clock in epoch milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	return c.rest.NewServerTimeService().Do(ctx)
}

// MarketSell issues a market sell order and returns the acknowledgement.
func (c *Client) MarketSell(ctx context.Context, symbol, quantity string) (models.OrderAck, error) {
	res, err := c.rest.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideTypeSell).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		Do(ctx)
	if err != nil {
		return models.OrderAck{}, err
	}

	return models.OrderAck{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		Status:        string(res.Status),
		ClientOrderID: res.ClientOrderID,
	}, nil
}
