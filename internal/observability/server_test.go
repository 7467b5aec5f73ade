// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type readyFlag struct{ atomic.Bool }

func (r *readyFlag) Ready() bool { return r.Load() }

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServer_ReadinessTracksSource(t *testing.T) {
	var ready readyFlag
	h := NewServer(":0", NewRegistry(), &ready).Handler()

	code, body := get(t, h, ReadinessPath)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "bridge not initialized\n", body)

	ready.Store(true)
	code, body = get(t, h, ReadinessPath)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bridge ready\n", body)

	code, _ = get(t, h, LivenessPath)
	assert.Equal(t, http.StatusOK, code, "liveness ignores readiness")
}

func TestServer_NoReadinessSourceIsNotReady(t *testing.T) {
	code, _ := get(t, NewServer(":0", NewRegistry(), nil).Handler(), ReadinessPath)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServer_ScrapesSharedRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewMetrics(reg)
	m.RecordTransaction("apb", "write")
	h := NewServer(":0", reg, nil).Handler()

	code, body := get(t, h, MetricsPath)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `dpibridge_transactions_total{kind="write",plugin="apb"} 1`)
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "process_")
}

func TestServer_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var ready readyFlag
	ready.Store(true)
	srv := NewServer("127.0.0.1:0", NewRegistry(), &ready)
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Stop(context.Background()), "stopping an idle server is a no-op")

	errCh, err := srv.Start()
	require.NoError(t, err)
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	_, err = srv.Start()
	require.Error(t, err)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + ReadinessPath)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.Empty(t, srv.Addr())

	_, open := <-errCh
	assert.False(t, open, "a clean stop closes the channel without an error")
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	_, err = NewServer(ln.Addr().String(), NewRegistry(), nil).Start()
	require.Error(t, err)
}
