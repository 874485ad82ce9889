// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes healing sessions over HTTP.
//
// Routes:
//
//	POST /api/heal-code/stream        run a session, stream events as SSE
//	POST /api/heal-code               run a session, return the final result
//	GET  /api/heal-code/sessions      list stored results, newest first
//	GET  /api/heal-code/sessions/:id  fetch one stored result
//	GET  /health                      liveness
//	GET  /metrics                     Prometheus scrape endpoint
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/codeheal/services/healing"
	"github.com/AleutianAI/codeheal/services/telemetry"
)

// Healer runs healing sessions. *healing.Orchestrator satisfies it.
type Healer interface {
	Stream(ctx context.Context, req *healing.Request, sink healing.EventSink) (*healing.Session, error)
}

// ResultStore persists final results. *store.SessionStore satisfies it.
type ResultStore interface {
	Save(ctx context.Context, r *healing.Result) error
	Get(ctx context.Context, id string) (*healing.Result, error)
	List(ctx context.Context, limit int) ([]*healing.Result, error)
}

// Config configures the router.
type Config struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// Version is reported by /health.
	Version string

	// RateLimit is healing requests per second per client. Zero disables.
	RateLimit float64
	RateBurst int

	// KeepAlive is the interval between SSE comments on idle streams.
	KeepAlive time.Duration

	// ListLimit is the default page size for the session list.
	ListLimit int
}

// DefaultConfig returns router defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName: "codeheal",
		Version:     "dev",
		RateLimit:   1,
		RateBurst:   5,
		KeepAlive:   15 * time.Second,
		ListLimit:   50,
	}
}

// NewRouter builds the gin engine.
//
// Inputs:
//
//	cfg - Router configuration
//	healer - Session runner. Required.
//	results - Result store. Nil disables persistence and the session routes.
//	logger - Request logger. Nil uses slog.Default().
//
// Outputs:
//
//	*gin.Engine - Ready to serve
func NewRouter(cfg Config, healer Healer, results ResultStore, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultConfig().KeepAlive
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultConfig().ListLimit
	}

	h := &handlers{cfg: cfg, healer: healer, results: results, logger: logger}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		requestID(),
		requestMetrics(),
		requestLogger(logger),
	)

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	heal := router.Group("/api/heal-code")
	{
		limited := rateLimit(cfg.RateLimit, cfg.RateBurst)
		heal.POST("", limited, h.heal)
		heal.POST("/stream", limited, h.healStream)

		if results != nil {
			heal.GET("/sessions", h.listSessions)
			heal.GET("/sessions/:id", h.getSession)
		}
	}

	return router
}

// requestID propagates or assigns X-Request-ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

// requestLogger logs one line per request with the trace id attached.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		telemetry.LoggerWithTrace(c.Request.Context(), logger).Log(c.Request.Context(), level, "HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
			slog.String("request_id", c.GetString("request_id")),
		)
	}
}
