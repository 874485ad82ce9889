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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/codeheal/services/healing"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// sseWriter writes healing events as Server-Sent Events.
//
// Each frame is:
//
//	id: <sequence>
//	event: <event name>
//	data: <json payload>
//
// Sequence numbers start at 1 and increase per stream.
//
// Thread Safety: Safe for concurrent use.
type sseWriter struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
	seq     int
}

// newSSEWriter sets the streaming headers on w and returns a writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// WriteEvent writes one event frame and flushes it.
func (w *sseWriter) WriteEvent(ev healing.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	if _, err := fmt.Fprintf(w.writer, "id: %d\nevent: %s\ndata: %s\n\n", w.seq, ev.Type, data); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	w.flusher.Flush()
	return nil
}

// WriteError writes an error event.
func (w *sseWriter) WriteError(msg string) error {
	return w.WriteEvent(healing.Event{Type: healing.EventError, Data: healing.ErrorData{Message: msg}})
}

// WriteKeepAlive writes an SSE comment so proxies keep the connection open.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}
