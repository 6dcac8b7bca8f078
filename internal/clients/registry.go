// Package clients tracks the application pages connected to the worker.
//
// A page connects over a websocket, says hello with its current URL and
// then receives control messages: claim (the worker now controls it),
// focus, navigate and open.
package clients

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
)

// ErrClientNotFound is returned when a client id is unknown.
var ErrClientNotFound = errors.NewStd("client not found")

// Message types exchanged with pages.
const (
	MsgHello    = "hello"
	MsgURL      = "url"
	MsgClaim    = "claim"
	MsgFocus    = "focus"
	MsgNavigate = "navigate"
	MsgOpen     = "open"
)

// Message is the JSON envelope sent in both directions.
type Message struct {
	Type    string `json:"type"`
	URL     string `json:"url,omitempty"`
	Version string `json:"version,omitempty"`
}

// Sender delivers a message to one page.
type Sender interface {
	Send(msg Message) error
}

// Info is a snapshot of a connected client.
type Info struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	ControllerVersion string    `json:"controller_version,omitempty"`
	ConnectedAt       time.Time `json:"connected_at"`
}

type client struct {
	Info
	sender Sender
}

// OpenResult tells how OpenWindow satisfied a request.
type OpenResult string

const (
	OpenFocused   OpenResult = "focused"
	OpenNavigated OpenResult = "navigated"
	OpenQueued    OpenResult = "queued"
)

// Registry holds connected clients in connection order.
type Registry struct {
	mu      sync.Mutex
	clients []*client
	pending []string
	log     logger.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{log: log.Module("clients")}
}

// Register adds a client at url and returns its id. Window opens queued
// while no client was connected are delivered to it.
func (r *Registry) Register(url string, s Sender) string {
	c := &client{
		Info:   Info{ID: uuid.NewString(), URL: url, ConnectedAt: time.Now()},
		sender: s,
	}

	r.mu.Lock()
	r.clients = append(r.clients, c)
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	r.log.Debug("client connected", logger.String("client_id", c.ID), logger.String("url", url))
	for _, u := range pending {
		r.send(c, Message{Type: MsgOpen, URL: u})
	}
	return c.ID
}

// Unregister removes a client.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = slices.DeleteFunc(r.clients, func(c *client) bool { return c.ID == id })
}

// UpdateURL records a page navigation.
func (r *Registry) UpdateURL(id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.ID == id {
			c.URL = url
			return nil
		}
	}
	return ErrClientNotFound
}

// MatchAll returns a snapshot of every connected client.
func (r *Registry) MatchAll() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.Info)
	}
	return out
}

// Claim makes version the controller of every connected client and tells
// each page. It returns the number of clients claimed.
func (r *Registry) Claim(version string) int {
	r.mu.Lock()
	targets := slices.Clone(r.clients)
	for _, c := range targets {
		c.ControllerVersion = version
	}
	r.mu.Unlock()

	for _, c := range targets {
		r.send(c, Message{Type: MsgClaim, Version: version})
	}
	r.log.Info("clients claimed", logger.String("version", version), logger.Int("count", len(targets)))
	return len(targets)
}

// ControlledByOther reports whether any client is controlled by a version
// other than version.
func (r *Registry) ControlledByOther(version string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.clients, func(c *client) bool {
		return c.ControllerVersion != "" && c.ControllerVersion != version
	})
}

// OpenWindow brings the app to url: it focuses a client already there,
// otherwise navigates the first client, otherwise queues the open for the
// next client that connects.
func (r *Registry) OpenWindow(url string) (OpenResult, error) {
	r.mu.Lock()
	var target *client
	result := OpenQueued
	for _, c := range r.clients {
		if c.URL == url {
			target, result = c, OpenFocused
			break
		}
	}
	if target == nil && len(r.clients) > 0 {
		target, result = r.clients[0], OpenNavigated
		target.URL = url
	}
	if target == nil {
		r.pending = append(r.pending, url)
	}
	r.mu.Unlock()

	switch result {
	case OpenFocused:
		return result, target.sender.Send(Message{Type: MsgFocus, URL: url})
	case OpenNavigated:
		return result, target.sender.Send(Message{Type: MsgNavigate, URL: url})
	default:
		r.log.Debug("no client connected, open queued", logger.String("url", url))
		return result, nil
	}
}

// PendingOpens returns URLs waiting for a client.
func (r *Registry) PendingOpens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pending)
}

func (r *Registry) send(c *client, msg Message) {
	if err := c.sender.Send(msg); err != nil {
		r.log.Warn("failed to message client",
			logger.String("client_id", c.ID),
			logger.String("type", msg.Type),
			logger.Error(err))
	}
}
