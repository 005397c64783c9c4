// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patchd serves the patch workflows over HTTP.
//
// Descriptors travel inline as DBC text; parsed models are cached by content
// hash. Workflow runs are written to the audit history and pushed to
// websocket subscribers of /v1/events.
package patchd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/dbcpatch/pkg/matrix/dbc"
	"github.com/AleutianAI/dbcpatch/pkg/telemetry"
	"github.com/AleutianAI/dbcpatch/services/history"
	"github.com/AleutianAI/dbcpatch/services/patch"
	"github.com/AleutianAI/dbcpatch/services/reference"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// ErrMissingDependency is returned by New when a required collaborator is
// nil.
var ErrMissingDependency = errors.New("missing server dependency")

// Config holds the HTTP service settings.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`

	// ServiceName names the otelgin spans.
	ServiceName string `yaml:"service_name"`

	// CacheSize is the number of parsed descriptors kept in memory.
	CacheSize int `yaml:"cache_size" validate:"gte=1"`

	// RateLimit is the sustained request rate per second on /v1. Zero
	// disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// RateBurst is the limiter's burst size.
	RateBurst int `yaml:"rate_burst" validate:"gte=0"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gte=1024"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8088",
		ServiceName:     "dbcpatch",
		CacheSize:       64,
		RateLimit:       20,
		RateBurst:       40,
		MaxBodyBytes:    32 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Dependencies are the collaborators the server is built on.
type Dependencies struct {
	Codec    *dbc.Codec
	Catalog  *reference.Catalog
	History  history.Store
	Workflow patch.WorkflowConfig
	Logger   *slog.Logger
}

// Server is the dbcpatch HTTP service.
type Server struct {
	cfg      Config
	wfConfig patch.WorkflowConfig
	codec    *dbc.Codec
	catalog  *reference.Catalog
	history  history.Store
	audit    publishingAudit
	cache    *modelCache
	hub      *Hub
	router   *gin.Engine
	logger   *slog.Logger
}

// New builds the server and its routes.
//
// # Outputs
//
//   - *Server: Ready to serve through Handler or Run.
//   - error: ErrMissingDependency, or a cache or metrics setup failure.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Codec == nil || deps.Catalog == nil || deps.History == nil {
		return nil, fmt.Errorf("%w: codec, catalog and history are required", ErrMissingDependency)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dbcpatch"
	}

	cache, err := newModelCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewHTTPMetrics(otel.Meter("dbcpatch.patchd"))
	if err != nil {
		return nil, fmt.Errorf("create http metrics: %w", err)
	}

	hub := NewHub(logger)
	s := &Server{
		cfg:      cfg,
		wfConfig: deps.Workflow,
		codec:    deps.Codec,
		catalog:  deps.Catalog,
		history:  deps.History,
		audit:    publishingAudit{store: deps.History, hub: hub},
		cache:    cache,
		hub:      hub,
		logger:   logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(withRequestID())
	router.Use(observe(metrics))
	s.routes(router)
	s.router = router
	return s, nil
}

// routes registers every endpoint.
//
//	GET  /health                 - Health check
//	GET  /metrics                - Prometheus metrics
//	POST /v1/diff                - Generate a patch from two descriptors
//	POST /v1/apply               - Apply a patch to a descriptor
//	POST /v1/direct              - Generate and apply in one call
//	GET  /v1/reference/search    - Search the reference catalog
//	GET  /v1/reference/stats     - Catalog statistics
//	POST /v1/reference/import    - Import a descriptor into the catalog
//	GET  /v1/history             - List audit entries
//	GET  /v1/events              - Websocket stream of workflow events
func (s *Server) routes(router *gin.Engine) {
	router.GET("/health", s.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	if s.cfg.RateLimit > 0 {
		v1.Use(rateLimit(rate.NewLimiter(rate.Limit(s.cfg.RateLimit), max(s.cfg.RateBurst, 1))))
	}
	if s.cfg.MaxBodyBytes > 0 {
		v1.Use(limitBody(s.cfg.MaxBodyBytes))
	}
	{
		v1.POST("/diff", s.HandleDiff)
		v1.POST("/apply", s.HandleApply)
		v1.POST("/direct", s.HandleDirect)
		v1.GET("/history", s.HandleHistory)
		v1.GET("/events", s.hub.HandleEvents)

		ref := v1.Group("/reference")
		{
			ref.GET("/search", s.HandleReferenceSearch)
			ref.GET("/stats", s.HandleReferenceStats)
			ref.POST("/import", s.HandleReferenceImport)
		}
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully and disconnects event subscribers.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dbcpatch server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down dbcpatch server")
	s.hub.Close()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// overrides are per-request workflow toggles. Each one can only switch a
// toggle on.
type overrides struct {
	force          bool
	embedPayloads  bool
	embedReference bool
}

// workflow returns a workflow over the shared collaborators.
func (s *Server) workflow(o overrides) *patch.Workflow {
	cfg := s.wfConfig
	cfg.Force = cfg.Force || o.force
	cfg.EmbedPayloads = cfg.EmbedPayloads || o.embedPayloads
	cfg.EmbedReference = cfg.EmbedReference || o.embedReference
	// HTTP workflows never write files.
	cfg.RefuseOnConflict = false
	return patch.NewWorkflow(s.codec, s.catalog, s.audit, cfg, s.logger)
}
