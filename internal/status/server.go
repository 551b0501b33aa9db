// Package status hosts a small JSON API exposing the tracker and session
// state of a running capture process.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"latencyflow/config"
	"latencyflow/internal/capture"
	"latencyflow/internal/funding"
	"latencyflow/logger"
)

// Server exposes /api/status, /api/funding and /api/sessions.
type Server struct {
	cfg        config.StatusConfig
	name       string
	version    string
	threshold  float64
	tracker    *funding.Tracker
	registry   *capture.Registry
	started    time.Time
	httpServer *http.Server
	log        *logger.Entry
}

// NewServer returns nil when the status endpoint is disabled.
func NewServer(cfg config.StatusConfig, name, version string, threshold float64, tracker *funding.Tracker, registry *capture.Registry) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)
	return &Server{
		cfg:       cfg,
		name:      name,
		version:   version,
		threshold: threshold,
		tracker:   tracker,
		registry:  registry,
		started:   time.Now(),
		log:       logger.GetLogger().WithComponent("status_server"),
	}
}

// Run blocks until ctx is cancelled or the HTTP server fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	s.log.WithFields(logger.Fields{"address": s.cfg.Address}).Info("status server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the normalized listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":             s.name,
			"version":          s.version,
			"uptime_seconds":   int(time.Since(s.started).Seconds()),
			"symbols_tracked":  s.tracker.Size(),
			"records_dropped":  logger.RecordsDropped(),
			"active_sessions":  len(s.registry.Active()),
			"capture_sessions": len(s.registry.Finished()),
		})
	})

	router.GET("/api/funding", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"threshold":  s.threshold,
			"qualifying": s.tracker.Snapshot(s.threshold),
		})
	})

	router.GET("/api/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"active":   s.registry.Active(),
			"finished": s.registry.Finished(),
		})
	})

	return router
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}
	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
