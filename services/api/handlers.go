// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/codeheal/services/healing"
	"github.com/AleutianAI/codeheal/services/store"
)

const (
	maxListLimit = 500
	saveTimeout  = 5 * time.Second
)

// errorResponse is the JSON body of every non-2xx reply.
type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	SessionID string `json:"session_id,omitempty"`
}

type handlers struct {
	cfg     Config
	healer  Healer
	results ResultStore
	logger  *slog.Logger
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.cfg.Version})
}

// bindRequest decodes and validates a healing request, replying 400 on
// failure.
func (h *handlers) bindRequest(c *gin.Context) (*healing.Request, bool) {
	var req healing.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error(), Code: "BAD_REQUEST"})
		return nil, false
	}
	if err := req.Validate(); err != nil {
		code := "BAD_REQUEST"
		if errors.Is(err, healing.ErrUnsupportedLanguage) {
			code = "UNSUPPORTED_LANGUAGE"
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: code})
		return nil, false
	}
	return &req, true
}

// heal runs a session and replies with its final result.
//
// Test failures, timeouts and exhausted attempts are ordinary results
// (200 with success=false). A detection failure replies 502.
func (h *handlers) heal(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	session, err := h.healer.Stream(c.Request.Context(), req, nil)
	h.persist(c.Request.Context(), session)

	switch {
	case err == nil, errors.Is(err, healing.ErrSessionTimeout):
		c.JSON(http.StatusOK, session.Result())
	case errors.Is(err, healing.ErrDetection):
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "DETECTION_FAILED", SessionID: sessionID(session)})
	case errors.Is(err, healing.ErrSessionCancelled):
		// The client is gone; nothing useful can be written.
		c.Status(http.StatusRequestTimeout)
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "INTERNAL"})
	}
}

// healStream runs a session and streams its events as SSE.
//
// Once the stream is open every outcome is reported in-band: the session
// ends with a success or failure event, or with an error event when
// detection fails.
func (h *handlers) healStream(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	w, err := newSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "STREAMING_UNSUPPORTED"})
		return
	}
	c.Status(http.StatusOK)

	activeStreams.Inc()
	defer activeStreams.Dec()

	ctx := c.Request.Context()
	stopKeepAlive := h.keepAlive(ctx, w)

	session, err := h.healer.Stream(ctx, req, w.WriteEvent)
	stopKeepAlive()
	h.persist(ctx, session)

	if err != nil && errors.Is(err, healing.ErrDetection) {
		if werr := w.WriteError(err.Error()); werr != nil {
			h.logger.Debug("Could not deliver error event", slog.String("error", werr.Error()))
		}
	}
}

// keepAlive writes SSE comments until the returned stop function is called.
func (h *handlers) keepAlive(ctx context.Context, w *sseWriter) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(h.cfg.KeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.WriteKeepAlive(); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// persist saves the final result. Failures are logged, not returned.
func (h *handlers) persist(ctx context.Context, session *healing.Session) {
	if h.results == nil || session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := h.results.Save(ctx, session.Result()); err != nil {
		h.logger.Warn("Failed to store session result",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *handlers) getSession(c *gin.Context) {
	id := c.Param("id")
	result, err := h.results.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "session not found", Code: "NOT_FOUND", SessionID: id})
	case err != nil:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "INTERNAL"})
	default:
		c.JSON(http.StatusOK, result)
	}
}

func (h *handlers) listSessions(c *gin.Context) {
	limit := h.cfg.ListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer", Code: "BAD_REQUEST"})
			return
		}
		limit = min(n, maxListLimit)
	}

	results, err := h.results.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "INTERNAL"})
		return
	}
	if results == nil {
		results = []*healing.Result{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": results, "count": len(results)})
}

func sessionID(s *healing.Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}
