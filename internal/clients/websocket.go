package clients

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/diitku/diitku-offline/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMsgSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Non-browser clients omit Origin.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// wsSender serializes writes; gorilla/websocket allows one writer.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(msg)
}

func (s *wsSender) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// ServeWS upgrades the request and keeps the page registered until the
// connection closes. The first message must be a hello carrying the page
// URL.
func (r *Registry) ServeWS(w http.ResponseWriter, req *http.Request) error {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", logger.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(wsMaxMsgSize)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	var hello Message
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != MsgHello {
		// Hijacked connection: nothing more can be written over HTTP.
		return nil
	}

	sender := &wsSender{conn: conn}
	id := r.Register(hello.URL, sender)
	defer r.Unregister(id)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if sender.ping() != nil {
					return
				}
			case <-done:
				return
			case <-req.Context().Done():
				return
			}
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			r.log.Debug("client disconnected", logger.String("client_id", id))
			return nil
		}
		if msg.Type == MsgURL && msg.URL != "" {
			_ = r.UpdateURL(id, msg.URL)
		}
	}
}
