package network

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/errors"
)

func newMockClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	return NewClient(conf.NetworkSettings{UserAgent: "diitku-test", Timeout: conf.Duration(5 * time.Second)}, transport), transport
}

func TestClient_FetchSetsUserAgent(t *testing.T) {
	t.Parallel()
	client, transport := newMockClient(t)

	var gotUA string
	transport.RegisterResponder(http.MethodGet, "https://cdn.jsdelivr.net/npm/chart.js",
		func(req *http.Request) (*http.Response, error) {
			gotUA = req.Header.Get("User-Agent")
			return httpmock.NewStringResponse(http.StatusOK, "chart"), nil
		})

	resp, err := Get(t.Context(), client, "https://cdn.jsdelivr.net/npm/chart.js")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "diitku-test", gotUA)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestClient_FetchKeepsCallerUserAgent(t *testing.T) {
	t.Parallel()
	client, transport := newMockClient(t)

	var gotUA string
	transport.RegisterResponder(http.MethodGet, "http://localhost:8080/",
		func(req *http.Request) (*http.Response, error) {
			gotUA = req.Header.Get("User-Agent")
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://localhost:8080/", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := client.Fetch(t.Context(), req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "Mozilla/5.0", gotUA)
}

func TestClient_FetchTransportError(t *testing.T) {
	t.Parallel()
	client, transport := newMockClient(t)
	transport.RegisterResponder(http.MethodGet, "http://offline.test/", httpmock.NewErrorResponder(assert.AnError))

	_, err := Get(t.Context(), client, "http://offline.test/")
	require.Error(t, err)
	assert.Equal(t, errors.CategoryNetwork, errors.CategoryOf(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestClient_NonSuccessIsNotAnError(t *testing.T) {
	t.Parallel()
	client, transport := newMockClient(t)
	transport.RegisterResponder(http.MethodGet, "http://localhost:8080/missing",
		httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	resp, err := Get(t.Context(), client, "http://localhost:8080/missing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, IsSuccess(resp.StatusCode))
}

func TestOutboundRequest(t *testing.T) {
	t.Parallel()
	in := httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(`{"amount":1}`))
	in.Header.Set("Content-Type", "application/json")
	in.Header.Set("Connection", "keep-alive, X-Trace")
	in.Header.Set("X-Trace", "abc")
	in.Header.Set("Keep-Alive", "timeout=5")

	out, err := OutboundRequest(t.Context(), in, "http://localhost:8080/api/transactions")
	require.NoError(t, err)

	assert.Empty(t, out.RequestURI)
	assert.Equal(t, http.MethodPost, out.Method)
	assert.Equal(t, "http://localhost:8080/api/transactions", out.URL.String())
	assert.Equal(t, "application/json", out.Header.Get("Content-Type"))
	assert.Empty(t, out.Header.Get("Connection"))
	assert.Empty(t, out.Header.Get("X-Trace"))
	assert.Empty(t, out.Header.Get("Keep-Alive"))
	assert.Equal(t, "keep-alive, X-Trace", in.Header.Get("Connection"), "input headers untouched")
}

func TestIsSuccess(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusMovedPermanently, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSuccess(tt.status), "status %d", tt.status)
	}
}
