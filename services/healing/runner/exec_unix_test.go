// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func sh(script, dir string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}, Dir: dir}
}

func TestExecute_ExitCodeDecidesSuccess(t *testing.T) {
	e := NewProcessExecutor(0, nil)

	t.Run("exit 0 with FAIL in output is success", func(t *testing.T) {
		r := e.Execute(context.Background(), sh("echo FAIL; echo error >&2; exit 0", ""), 5*time.Second)
		if !r.Success || r.ExitCode != 0 {
			t.Errorf("result = %+v, want success", r)
		}
	})

	t.Run("non-zero exit is failure", func(t *testing.T) {
		r := e.Execute(context.Background(), sh("echo passed; exit 3", ""), 5*time.Second)
		if r.Success || r.ExitCode != 3 {
			t.Errorf("result = %+v, want exit 3", r)
		}
	})
}

func TestExecute_SeparatesStreams(t *testing.T) {
	r := NewProcessExecutor(0, nil).Execute(context.Background(), sh("echo out; echo err >&2", ""), 5*time.Second)

	if strings.TrimSpace(r.Stdout) != "out" {
		t.Errorf("Stdout = %q", r.Stdout)
	}
	if strings.TrimSpace(r.Stderr) != "err" {
		t.Errorf("Stderr = %q", r.Stderr)
	}
	if r.Command != "sh -c echo out; echo err >&2" {
		t.Errorf("Command = %q", r.Command)
	}
}

func TestExecute_RunsInDir(t *testing.T) {
	dir := t.TempDir()
	r := NewProcessExecutor(0, nil).Execute(context.Background(), sh("pwd", dir), 5*time.Second)

	got, _ := filepath.EvalSymlinks(strings.TrimSpace(r.Stdout))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestExecute_TimeoutKillsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	// The background sleep is a grandchild and must die with the group.
	script := "sleep 999 & echo $! > " + pidFile + "; wait"

	start := time.Now()
	r := NewProcessExecutor(0, nil).Execute(context.Background(), sh(script, dir), time.Second)
	elapsed := time.Since(start)

	if !r.TimedOut || r.ExitCode != ExitCodeTimeout || r.Success {
		t.Fatalf("result = %+v, want timeout", r)
	}
	if r.Stderr != "Test execution timed out after 1 seconds" {
		t.Errorf("Stderr = %q", r.Stderr)
	}
	if elapsed > 1*time.Second+killGrace+time.Second {
		t.Errorf("Execute returned after %v", elapsed)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("pid: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if !processAlive(pid) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("grandchild %d still alive", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestExecute_BackgroundChildDoesNotFailPassingRun(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	// The leader exits 0 while a background sleep still holds stdout.
	script := "echo ok; sleep 30 & echo $! > " + pidFile + "; exit 0"

	start := time.Now()
	r := NewProcessExecutor(0, nil).Execute(context.Background(), sh(script, dir), 30*time.Second)
	elapsed := time.Since(start)

	if !r.Success || r.ExitCode != 0 || r.TimedOut {
		t.Fatalf("result = %+v, want success with exit 0", r)
	}
	if !strings.Contains(r.Stdout, "ok") {
		t.Errorf("Stdout = %q", r.Stdout)
	}
	if strings.Contains(r.Stderr, "Failed to run") {
		t.Errorf("Stderr = %q", r.Stderr)
	}
	if elapsed > killGrace+2*time.Second {
		t.Errorf("Execute returned after %v", elapsed)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("pid: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background child %d outlived the run", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestExecute_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	r := NewProcessExecutor(0, nil).Execute(ctx, sh("sleep 30", ""), 10*time.Second)

	if r.TimedOut || r.ExitCode != ExitCodeUnavailable {
		t.Errorf("result = %+v, want cancelled", r)
	}
	if !strings.Contains(r.Stderr, "cancelled") {
		t.Errorf("Stderr = %q", r.Stderr)
	}
}

func TestExecute_TruncatesOutput(t *testing.T) {
	r := NewProcessExecutor(16, nil).Execute(context.Background(), sh("printf '%0100d' 0", ""), 5*time.Second)

	if !r.Truncated || len(r.Stdout) != 16 {
		t.Errorf("Truncated=%v len=%d", r.Truncated, len(r.Stdout))
	}
	if !r.Success {
		t.Errorf("truncation must not fail the run: %+v", r)
	}
}

// processAlive treats an unreaped zombie as dead.
func processAlive(pid int) bool {
	if err := unix.Kill(pid, 0); err == unix.ESRCH {
		return false
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		// No procfs: signal 0 succeeded, so assume alive.
		return !os.IsNotExist(err) || !isLinux()
	}
	return !strings.Contains(string(stat), ") Z")
}

func isLinux() bool { return runtime.GOOS == "linux" }
