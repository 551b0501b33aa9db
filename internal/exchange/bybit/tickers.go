// Package bybit implements the funding feed and interval provider
// capabilities against Bybit's v5 REST API. Bybit has no all-market mark
// price stream, so funding updates come from polling the linear tickers
// endpoint at a configurable interval.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"latencyflow/config"
	"latencyflow/logger"
	"latencyflow/models"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

type Client struct {
	client   *bybit.Client
	interval time.Duration
	log      *logger.Log
}

// NewClient creates a Bybit adapter with a pooled HTTP transport.
func NewClient(cfg *config.Config) *Client {
	log := logger.GetLogger()
	src := cfg.Source.Bybit

	transport := &http.Transport{
		MaxIdleConns:        src.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: src.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     src.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     src.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}
	httpClient := &http.Client{Transport: transport, Timeout: src.Timeout}

	base := src.URL
	if parsed, err := url.Parse(src.URL); err == nil && parsed.Host != "" {
		base = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	}

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	client.HTTPClient = httpClient

	interval := time.Duration(src.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	log.WithComponent("bybit_adapter").WithFields(logger.Fields{
		"base_url": base,
		"interval": interval,
	}).Info("bybit adapter initialized")

	return &Client{client: client, interval: interval, log: log}
}

type tickersResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol          string `json:"symbol"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
	} `json:"list"`
}

// SubscribeFunding polls the linear tickers endpoint and emits one batch of
// funding updates per poll until ctx is cancelled.
func (c *Client) SubscribeFunding(ctx context.Context) (<-chan []models.FundingUpdate, error) {
	log := c.log.WithComponent("bybit_funding_feed")

	out := make(chan []models.FundingUpdate, 16)

	go func() {
		defer close(out)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("bybit funding poller stopped")
				return
			case <-ticker.C:
				batch, err := c.fetchTickers(ctx)
				if err != nil {
					log.WithError(err).Warn("failed to fetch tickers")
					continue
				}
				if len(batch) == 0 {
					continue
				}
				select {
				case out <- batch:
					logger.IncrementFundingUpdate(len(batch))
				case <-ctx.Done():
					return
				default:
					log.Warn("funding update channel full, dropping batch")
				}
			}
		}
	}()

	return out, nil
}

func (c *Client) fetchTickers(ctx context.Context) ([]models.FundingUpdate, error) {
	params := map[string]interface{}{"category": "linear"}

	start := time.Now()
	resp, err := c.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(c.log.WithComponent("bybit_funding_feed"), "bybit_adapter", "api_request", time.Since(start), nil)

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tickers result: %w", err)
	}

	var result tickersResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tickers result: %w", err)
	}

	now := time.Now().UnixMilli()
	batch := make([]models.FundingUpdate, 0, len(result.List))
	for _, item := range result.List {
		rate, err := strconv.ParseFloat(item.FundingRate, 64)
		if err != nil {
			continue
		}
		next, _ := strconv.ParseInt(item.NextFundingTime, 10, 64)
		batch = append(batch, models.FundingUpdate{
			Exchange:    "bybit",
			Symbol:      item.Symbol,
			Rate:        rate,
			EventTimeMs: now,
			NextFunding: next,
		})
	}
	return batch, nil
}

type instrumentsResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol          string `json:"symbol"`
		FundingInterval int    `json:"fundingInterval"`
	} `json:"list"`
}

// FetchIntervalInfo resolves funding intervals from the instruments-info
// endpoint. Bybit reports minutes; the tracker caches hours.
func (c *Client) FetchIntervalInfo(ctx context.Context) (map[string]int, error) {
	params := map[string]interface{}{"category": "linear", "limit": 1000}

	resp, err := c.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instruments result: %w", err)
	}

	var result instrumentsResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode instruments result: %w", err)
	}

	intervals := make(map[string]int, len(result.List))
	for _, item := range result.List {
		if item.Symbol == "" || item.FundingInterval < 60 {
			continue
		}
		intervals[item.Symbol] = item.FundingInterval / 60
	}
	return intervals, nil
}
