package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iosmhttp "github.com/rokoss21/IOSM/internal/http"
)

const daemonDocument = `
system: billing-api
quality_gates:
  gate_I: {tests_pass: true}
  gate_O: {tests_pass: true}
  gate_S: {tests_pass: true}
  gate_M: {tests_pass: true}
index_weights:
  semantic: 0.15
  logic: 0.20
  performance: 0.25
  simplicity: 0.15
  modularity: 0.15
  flow: 0.10
backlog:
  path: %[1]s/backlog.yaml
  watch: true
  debounce: 50ms
executors:
  improve: {command: ["%[1]s/phase.sh"]}
  optimize: {command: ["%[1]s/phase.sh"]}
  shrink: {command: ["%[1]s/phase.sh"]}
  modularize: {command: ["%[1]s/phase.sh"]}
  metrics: {command: ["%[1]s/metrics.sh"]}
history:
  driver: memory
logging:
  level: error
server:
  host: 127.0.0.1
  port: %[2]d
  shutdown_timeout: 5s
`

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeDaemonProject(t *testing.T, port int) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	scripts := map[string]string{
		"phase.sh":   `echo '{"tests_pass": true}'`,
		"metrics.sh": `echo '{"semantic":1,"logic":1,"performance":1,"simplicity":1,"modularity":1,"flow":1}'`,
	}
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backlog.yaml"),
		[]byte("items:\n  - id: split-billing\n    cost: 2\n    value: 8\n"), 0o600))
	path = filepath.Join(dir, "iosm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(daemonDocument, dir, port)), 0o600))
	return dir, path
}

func stoppedStatus(t *testing.T, base, system string) func() bool {
	return func() bool {
		resp, err := http.Get(base + "/api/v1/systems/" + system + "/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var status iosmhttp.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return !status.Running && status.LastRun != nil && status.LastRun.Stopped()
	}
}

func TestDaemon(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping daemon test")
	}

	port := freePort(t)
	dir, path := writeDaemonProject(t, port)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	readyCh := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, path, func() { close(readyCh) })
	}()

	select {
	case <-readyCh:
	case err := <-errCh:
		t.Fatalf("run() failed to start: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not start in time")
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	t.Run("http trigger runs to a stop", func(t *testing.T) {
		resp, err := http.Post(base+"/api/v1/systems/billing-api/runs", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		assert.Eventually(t, stoppedStatus(t, base, "billing-api"), 10*time.Second, 50*time.Millisecond)
	})

	t.Run("metrics are exported", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "iosm_runs_total")
		assert.Contains(t, string(body), "go_goroutines")
	})

	t.Run("backlog change reruns systems", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "backlog.yaml"),
			[]byte("items:\n  - id: split-billing\n    cost: 2\n    value: 8\n  - id: index-docs\n    system: search\n    cost: 1\n    value: 3\n"), 0o600))

		assert.Eventually(t, stoppedStatus(t, base, "search"), 10*time.Second, 50*time.Millisecond)
	})

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iosm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system: x\nhistory:\n  driver: ftp\n"), 0o600))

	err := run(context.Background(), path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading configuration")
}
