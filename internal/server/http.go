package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/radio-recorder/internal/catalog"
	"github.com/skypro1111/radio-recorder/internal/metrics"
	"github.com/skypro1111/radio-recorder/internal/storage"
	"github.com/skypro1111/radio-recorder/internal/stream"
)

//go:embed templates/*.html
var templateFS embed.FS

// RecordingLister returns the recordings tree
type RecordingLister interface {
	Networks(ctx context.Context) ([]catalog.Network, error)
}

// SessionLister returns the transmissions currently being recorded
type SessionLister interface {
	Snapshot() []stream.SessionInfo
}

// Options configures the HTTP front end
type Options struct {
	Address string
	Port    int
	// BaseDir is served read-only under /recordings
	BaseDir string
	Version string
	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
}

// HTTPServer serves the recordings listing, the raw files and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	router   *gin.Engine
	logger   *slog.Logger
	metrics  *metrics.Metrics
	catalog  RecordingLister
	sessions SessionLister
	opts     Options

	startTime time.Time
}

// NewHTTPServer creates the HTTP front end
func NewHTTPServer(opts Options, logger *slog.Logger, cat RecordingLister, sessions SessionLister, m *metrics.Metrics) (*HTTPServer, error) {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.Local().Format("2006-01-02 15:04:05")
		},
		"formatDuration": func(seconds float64) string {
			return (time.Duration(seconds*float64(time.Second)) / time.Millisecond * time.Millisecond).String()
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	h := &HTTPServer{
		logger:    logger,
		metrics:   m,
		catalog:   cat,
		sessions:  sessions,
		opts:      opts,
		startTime: time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), h.withMetrics())
	router.SetHTMLTemplate(tmpl)
	h.setupRoutes(router)
	h.router = router

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Address, opts.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h, nil
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(router *gin.Engine) {
	router.GET("/", h.handleIndex)
	router.GET("/health", h.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/networks", h.handleNetworks)
		api.GET("/sessions", h.handleSessions)
	}

	// Recordings are immutable once finalized, so plain file serving is enough
	router.StaticFS(storage.URLPrefix, gin.Dir(h.opts.BaseDir, false))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{})))
}

// withMetrics records the count and latency of every request by route
func (h *HTTPServer) withMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		if endpoint == "/metrics" {
			return
		}

		status := c.Writer.Status()
		h.metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(status), time.Since(start).Seconds())

		if status >= http.StatusInternalServerError {
			h.logger.Warn("HTTP request failed",
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.URL.Path),
				slog.Int("status", status),
			)
		}
	}
}

// Handler returns the router, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// Addr returns the listen address
func (h *HTTPServer) Addr() string {
	return h.server.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (h *HTTPServer) Run(ctx context.Context) error {
	h.logger.Info("Starting HTTP server", slog.String("address", h.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Stop(shutdownCtx)
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")
	return h.server.Shutdown(ctx)
}

// handleIndex renders the recordings page
func (h *HTTPServer) handleIndex(c *gin.Context) {
	networks, err := h.catalog.Networks(c.Request.Context())
	if err != nil {
		h.logger.Error("Error rendering the page", slog.String("error", err.Error()))
		c.String(http.StatusInternalServerError, "An error occurred while loading the recordings.")
		return
	}

	c.HTML(http.StatusOK, "index.html", gin.H{
		"Networks":  networks,
		"Generated": time.Now(),
	})
}

// handleNetworks implements GET /api/networks
func (h *HTTPServer) handleNetworks(c *gin.Context) {
	networks, err := h.catalog.Networks(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list recordings", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recordings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"networks":  networks,
		"timestamp": time.Now().UTC(),
	})
}

// handleSessions implements GET /api/sessions
func (h *HTTPServer) handleSessions(c *gin.Context) {
	sessions := h.sessions.Snapshot()
	if sessions == nil {
		sessions = []stream.SessionInfo{}
	}

	c.JSON(http.StatusOK, gin.H{
		"total_sessions": len(sessions),
		"sessions":       sessions,
		"timestamp":      time.Now().UTC(),
	})
}

// handleHealth implements GET /health
func (h *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"uptime":          time.Since(h.startTime).Round(time.Second).String(),
		"active_sessions": len(h.sessions.Snapshot()),
		"service": gin.H{
			"name":    "radio-recorder",
			"version": h.opts.Version,
		},
	})
}
