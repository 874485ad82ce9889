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
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientLimiter tracks one token bucket per client IP.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientBucket
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limiters: make(map[string]*clientBucket),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     time.Hour,
		now:      time.Now,
	}
}

// allow reports whether ip may make a request now. Buckets idle for
// longer than l.idle are dropped on the way.
func (l *clientLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.limiters[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = b
	}
	b.lastSeen = now

	if len(l.limiters) > 1024 {
		cutoff := now.Add(-l.idle)
		for k, v := range l.limiters {
			if v.lastSeen.Before(cutoff) {
				delete(l.limiters, k)
			}
		}
	}
	return b.limiter.AllowN(now, 1)
}

// rateLimit rejects clients exceeding perSecond with 429. A zero rate
// disables limiting.
func rateLimit(perSecond float64, burst int) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	l := newClientLimiter(perSecond, burst)
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			rateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
