package binance

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"latencyflow/config"
	"latencyflow/logger"

	futures "github.com/adshao/go-binance/v2/futures"
)

// Client bundles the Binance USDS-futures REST client with the stream base
// URL used for raw websocket subscriptions.
type Client struct {
	rest      *futures.Client
	streamURL string
	log       *logger.Log
}

// NewClient creates a Binance adapter using a pooled HTTP transport.
// Credentials come from BINANCE_API_KEY / BINANCE_SECRET_KEY; an unsigned
// client still serves the public market-data endpoints.
func NewClient(cfg *config.Config) *Client {
	log := logger.GetLogger()
	src := cfg.Source.Binance

	transport := &http.Transport{
		MaxIdleConns:        src.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: src.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     src.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     src.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   src.Timeout,
	}

	client := futures.NewClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_SECRET_KEY"))
	client.HTTPClient = httpClient

	if parsed, err := url.Parse(src.RestURL); err == nil && parsed.Host != "" {
		base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		client.SetApiEndpoint(base)
	}

	streamURL := src.StreamURL
	if streamURL == "" {
		streamURL = "wss://fstream.binance.com"
	}

	log.WithComponent("binance_adapter").WithFields(logger.Fields{
		"max_idle_conns":     src.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": src.ConnectionPool.MaxConnsPerHost,
		"timeout":            src.Timeout,
		"stream_url":         streamURL,
	}).Info("binance adapter initialized")

	return &Client{
		rest:      client,
		streamURL: streamURL,
		log:       log,
	}
}
