package session_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraldesk/securehttp/session"
	"github.com/astraldesk/securehttp/settings"
)

func TestRetry_RecoverableStatus(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newManager(t, settings.NewMemStore(nil))
	require.NoError(t, m.Configure(session.Options{MaxRetries: 3}))

	resp, err := m.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Metrics().RetriesTotal))
}

func TestRetry_ExhaustedReturnsLastResponse(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := newManager(t, settings.NewMemStore(nil))
	require.NoError(t, m.Configure(session.Options{MaxRetries: 2}))

	resp, err := m.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int64(3), hits.Load(), "initial attempt plus two retries")
}

func TestRetry_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := newManager(t, settings.NewMemStore(nil))
	require.NoError(t, m.Configure(session.Options{MaxRetries: 3}))

	resp, err := m.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int64(1), hits.Load())
}

func TestRetry_ReplaysPOSTBody(t *testing.T) {
	var hits atomic.Int64
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newManager(t, settings.NewMemStore(nil))
	require.NoError(t, m.Configure(session.Options{MaxRetries: 2}))

	resp, err := m.Do(context.Background(), http.MethodPost, srv.URL,
		strings.NewReader(`{"prompt":"hello"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), hits.Load())
	assert.Equal(t, `{"prompt":"hello"}`, lastBody.Load(), "retried request must carry the full body")
}

func TestRetry_CanceledContextStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := newManager(t, settings.NewMemStore(nil))
	require.NoError(t, m.Configure(session.Options{MaxRetries: 5}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Do(ctx, http.MethodGet, srv.URL, nil)
	assert.Error(t, err)
}
