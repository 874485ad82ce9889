// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
)

func waitChannels() (chan container.WaitResponse, chan error) {
	return make(chan container.WaitResponse, 1), make(chan error, 1)
}

func TestAwaitContainer(t *testing.T) {
	t.Run("exit status is reported", func(t *testing.T) {
		waitCh, errCh := waitChannels()
		waitCh <- container.WaitResponse{StatusCode: 101}

		outcome, code, err := awaitContainer(context.Background(), context.Background(), waitCh, errCh)
		if outcome != waitExited || code != 101 || err != nil {
			t.Errorf("got (%v, %d, %v), want exited 101", outcome, code, err)
		}
	})

	t.Run("wait error before deadline is a failure", func(t *testing.T) {
		waitCh, errCh := waitChannels()
		errCh <- errors.New("connection reset")

		outcome, _, err := awaitContainer(context.Background(), context.Background(), waitCh, errCh)
		if outcome != waitFailed || err == nil {
			t.Errorf("got (%v, %v), want failed", outcome, err)
		}
	})

	t.Run("wait error after deadline is a timeout", func(t *testing.T) {
		runCtx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-runCtx.Done()

		// Only errCh is ready, as when the client reports the deadline itself.
		errCh := make(chan error, 1)
		errCh <- runCtx.Err()

		outcome, _, _ := awaitContainer(context.Background(), runCtx, nil, errCh)
		if outcome != waitTimedOut {
			t.Errorf("outcome = %v, want timed out", outcome)
		}
	})

	t.Run("parent cancellation wins over timeout", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		runCtx, cancel := context.WithTimeout(parent, time.Hour)
		defer cancel()
		cancelParent()

		errCh := make(chan error, 1)
		errCh <- context.Canceled

		outcome, _, _ := awaitContainer(parent, runCtx, nil, errCh)
		if outcome != waitCancelled {
			t.Errorf("outcome = %v, want cancelled", outcome)
		}
	})

	t.Run("daemon wait error message is a failure", func(t *testing.T) {
		waitCh, errCh := waitChannels()
		waitCh <- container.WaitResponse{Error: &container.WaitExitError{Message: "no such container"}}

		outcome, _, err := awaitContainer(context.Background(), context.Background(), waitCh, errCh)
		if outcome != waitFailed || err == nil || err.Error() != "no such container" {
			t.Errorf("got (%v, %v), want failed", outcome, err)
		}
	})
}

func TestNewDockerExecutor_PullTimeout(t *testing.T) {
	// Client construction does not contact the daemon.
	tests := []struct {
		name string
		opts []DockerOption
		want time.Duration
	}{
		{"default", nil, DefaultPullTimeout},
		{"override", []DockerOption{WithPullTimeout(30 * time.Second)}, 30 * time.Second},
		{"non-positive keeps default", []DockerOption{WithPullTimeout(0)}, DefaultPullTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewDockerExecutor("tcp://127.0.0.1:1", 0, nil, tt.opts...)
			if err != nil {
				t.Fatalf("NewDockerExecutor: %v", err)
			}
			defer e.Close()
			if e.pullTimeout != tt.want {
				t.Errorf("pullTimeout = %v, want %v", e.pullTimeout, tt.want)
			}
		})
	}
}
