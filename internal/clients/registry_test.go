package clients

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diitku/diitku-offline/internal/logger"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (f *fakeSender) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.err
}

func (f *fakeSender) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.msgs...)
}

func TestRegistry_RegisterAndMatchAll(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(logger.Discard())

	a := reg.Register("http://localhost:8080/", &fakeSender{})
	b := reg.Register("http://localhost:8080/#budget", &fakeSender{})
	require.NotEqual(t, a, b)

	all := reg.MatchAll()
	require.Len(t, all, 2)
	assert.Equal(t, a, all[0].ID)
	assert.Equal(t, "http://localhost:8080/#budget", all[1].URL)

	require.NoError(t, reg.UpdateURL(a, "http://localhost:8080/#goals"))
	assert.Equal(t, "http://localhost:8080/#goals", reg.MatchAll()[0].URL)
	require.ErrorIs(t, reg.UpdateURL("missing", "x"), ErrClientNotFound)

	reg.Unregister(a)
	assert.Len(t, reg.MatchAll(), 1)
}

func TestRegistry_Claim(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(logger.Discard())
	s1, s2 := &fakeSender{}, &fakeSender{err: assert.AnError}
	reg.Register("http://localhost:8080/", s1)
	reg.Register("http://localhost:8080/", s2)

	assert.False(t, reg.ControlledByOther("v2"))
	assert.Equal(t, 2, reg.Claim("v1"))
	assert.True(t, reg.ControlledByOther("v2"))
	assert.False(t, reg.ControlledByOther("v1"))

	assert.Equal(t, []Message{{Type: MsgClaim, Version: "v1"}}, s1.messages())
	assert.Len(t, s2.messages(), 1, "send failures do not stop the claim")

	for _, c := range reg.MatchAll() {
		assert.Equal(t, "v1", c.ControllerVersion)
	}
}

func TestRegistry_OpenWindow(t *testing.T) {
	t.Parallel()

	const dashboard = "http://localhost:8080/#dashboard"

	t.Run("focuses client already at url", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry(logger.Discard())
		first, atURL := &fakeSender{}, &fakeSender{}
		reg.Register("http://localhost:8080/", first)
		reg.Register(dashboard, atURL)

		res, err := reg.OpenWindow(dashboard)
		require.NoError(t, err)
		assert.Equal(t, OpenFocused, res)
		assert.Empty(t, first.messages())
		assert.Equal(t, []Message{{Type: MsgFocus, URL: dashboard}}, atURL.messages())
	})

	t.Run("navigates first client", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry(logger.Discard())
		first, second := &fakeSender{}, &fakeSender{}
		id := reg.Register("http://localhost:8080/", first)
		reg.Register("http://localhost:8080/#budget", second)

		res, err := reg.OpenWindow(dashboard)
		require.NoError(t, err)
		assert.Equal(t, OpenNavigated, res)
		assert.Equal(t, []Message{{Type: MsgNavigate, URL: dashboard}}, first.messages())
		assert.Empty(t, second.messages())
		assert.Equal(t, id, reg.MatchAll()[0].ID)
		assert.Equal(t, dashboard, reg.MatchAll()[0].URL)
	})

	t.Run("queues when nobody is connected", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry(logger.Discard())

		res, err := reg.OpenWindow(dashboard)
		require.NoError(t, err)
		assert.Equal(t, OpenQueued, res)
		assert.Equal(t, []string{dashboard}, reg.PendingOpens())

		late := &fakeSender{}
		reg.Register("http://localhost:8080/", late)
		assert.Equal(t, []Message{{Type: MsgOpen, URL: dashboard}}, late.messages())
		assert.Empty(t, reg.PendingOpens())
	})

	t.Run("reports send failure", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry(logger.Discard())
		reg.Register("http://localhost:8080/", &fakeSender{err: assert.AnError})

		res, err := reg.OpenWindow(dashboard)
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, OpenNavigated, res)
	})
}

func TestRegistry_ServeWS(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(logger.Discard())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = reg.ServeWS(w, r)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.NoError(t, conn.WriteJSON(Message{Type: MsgHello, URL: "http://localhost:8080/"}))
	require.Eventually(t, func() bool { return len(reg.MatchAll()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MsgURL, URL: "http://localhost:8080/#goals"}))
	require.Eventually(t, func() bool {
		all := reg.MatchAll()
		return len(all) == 1 && all[0].URL == "http://localhost:8080/#goals"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, reg.Claim("v2"))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, Message{Type: MsgClaim, Version: "v2"}, msg)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return len(reg.MatchAll()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin", "", true},
		{"same host", "http://worker.local:8090", true},
		{"other host", "http://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "http://worker.local:8090/_sw/clients/ws", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, upgrader.CheckOrigin(req))
		})
	}
}
