// Package notification turns push messages into notifications, shows them
// on the configured display targets and handles clicks on them.
package notification

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/k3a/html2text"
)

// Defaults used when the push payload leaves a field out.
const (
	DefaultTitle      = "Diitku"
	DefaultBody       = "You have a new update in Diitku"
	DefaultPrimaryKey = 1

	iconPath  = "./icons/icon-192x192.png"
	badgePath = "./icons/icon-72x72.png"
)

// Notification actions.
const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

// vibratePattern is the on/off pattern in milliseconds.
var vibratePattern = []int{100, 50, 100}

// Action is a button shown on the notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Data travels with the notification and comes back on click.
type Data struct {
	// DateOfArrival is unix milliseconds.
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    any   `json:"primaryKey"`
}

// Options mirror the fields a notification is displayed with.
type Options struct {
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Vibrate []int    `json:"vibrate"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions"`
}

// Notification is one displayed notification. Tag identifies it in clicks.
type Notification struct {
	ID      string    `json:"id"`
	Tag     string    `json:"tag"`
	Title   string    `json:"title"`
	Options Options   `json:"options"`
	ShownAt time.Time `json:"shown_at"`
}

// Build creates the notification for a push payload. Icon and badge
// resolve against base.
func Build(p Payload, base *url.URL, now time.Time) *Notification {
	title := p.Title
	if title == "" {
		title = DefaultTitle
	}
	body := p.Body
	if body == "" {
		body = DefaultBody
	}
	key := p.PrimaryKey
	if key == nil {
		key = DefaultPrimaryKey
	}
	id := uuid.NewString()
	return &Notification{
		ID:    id,
		Tag:   id,
		Title: title,
		Options: Options{
			Body:    body,
			Icon:    resolve(base, iconPath),
			Badge:   resolve(base, badgePath),
			Vibrate: append([]int(nil), vibratePattern...),
			Data: Data{
				DateOfArrival: now.UnixMilli(),
				PrimaryKey:    key,
			},
			Actions: []Action{
				{Action: ActionExplore, Title: "View dashboard"},
				{Action: ActionClose, Title: "Close"},
			},
		},
		ShownAt: now,
	}
}

// PlainBody returns the body with any HTML flattened to text.
func (n *Notification) PlainBody() string {
	if !strings.ContainsAny(n.Options.Body, "<&") {
		return n.Options.Body
	}
	return html2text.HTML2Text(n.Options.Body)
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

// baseURL parses origin and makes sure its path ends in a slash.
func baseURL(origin string) (*url.URL, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery, u.Fragment = "", ""
	return u, true
}
