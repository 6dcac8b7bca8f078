package notification

import (
	"context"
	"io"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/diitku/diitku-offline/internal/clients"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/observability/metrics"
)

// subscriberBuffer is the per-subscriber channel capacity. Slow
// subscribers miss notifications instead of blocking display.
const subscriberBuffer = 16

// WindowOpener opens or focuses the application at a URL.
type WindowOpener interface {
	OpenWindow(url string) (clients.OpenResult, error)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Origin     string
	Displayers []Displayer
	Opener     WindowOpener
	// TTL is how long a shown notification can be closed by a click.
	TTL time.Duration
	// HistoryBytes bounds the replay history; 0 uses DefaultHistoryBytes.
	HistoryBytes int
	Metrics      *metrics.Metrics
	Log          logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service shows notifications for push messages and handles clicks.
type Service struct {
	origin     *url.URL
	displayers []Displayer
	opener     WindowOpener
	shown      *gocache.Cache
	history    *History
	ttl        time.Duration
	metrics    *metrics.Metrics
	log        logger.Logger
	now        func() time.Time

	subMu       sync.RWMutex
	subscribers map[string]chan *Notification
}

// NewService creates a Service.
func NewService(cfg *ServiceConfig) (*Service, error) {
	origin, ok := baseURL(cfg.Origin)
	if !ok {
		return nil, errors.Newf("origin %q is not an absolute URL", cfg.Origin).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := cfg.Log
	if log == nil {
		log = logger.Global()
	}
	log = log.Module("notification")
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	displayers := slices.Clone(cfg.Displayers)
	if !slices.ContainsFunc(displayers, func(d Displayer) bool { return d.Name() == "log" }) {
		displayers = append([]Displayer{NewLogDisplayer(log)}, displayers...)
	}
	return &Service{
		origin:     origin,
		displayers: displayers,
		opener:     cfg.Opener,
		// No janitor goroutine; expired entries are dropped on access.
		shown:       gocache.New(ttl, 0),
		history:     NewHistory(cfg.HistoryBytes),
		ttl:         ttl,
		metrics:     cfg.Metrics,
		log:         log,
		now:         now,
		subscribers: make(map[string]chan *Notification),
	}, nil
}

// HandlePush builds a notification from a push body and shows it. Display
// failures are logged, so it only fails on a cancelled context.
func (s *Service) HandlePush(ctx context.Context, data []byte) error {
	n := Build(ParsePayload(data), s.origin, s.now())
	s.Show(ctx, n)
	return ctx.Err()
}

// Show displays n on every target and remembers it for clicks.
func (s *Service) Show(ctx context.Context, n *Notification) {
	s.shown.DeleteExpired()
	s.shown.Set(n.Tag, n, s.ttl)
	if err := s.history.Record(n); err != nil {
		s.log.Warn("failed to record notification history", logger.String("tag", n.Tag), logger.Error(err))
	}

	for _, d := range s.displayers {
		err := d.Display(ctx, n)
		s.metrics.RecordNotification(d.Name(), err)
		if err != nil {
			s.log.Warn("failed to display notification",
				logger.String("target", d.Name()),
				logger.String("tag", n.Tag),
				logger.Error(err))
		}
	}
	s.broadcast(n)
}

// HandleClick closes the clicked notification and opens the app: the
// dashboard for the explore action, the root for anything else.
func (s *Service) HandleClick(ctx context.Context, action, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tag != "" {
		if _, ok := s.shown.Get(tag); ok {
			s.shown.Delete(tag)
		} else {
			s.log.Debug("clicked notification not tracked", logger.String("tag", tag))
		}
	}

	target := s.ClickURL(action)
	if s.opener == nil {
		s.log.Info("no window opener configured", logger.String("url", target))
		return nil
	}
	result, err := s.opener.OpenWindow(target)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("operation", "open_window").
			Context("url", target).
			Build()
	}
	s.log.Debug("window opened",
		logger.String("action", action),
		logger.String("url", target),
		logger.String("result", string(result)))
	return nil
}

// ClickURL returns where a click with action leads.
func (s *Service) ClickURL(action string) string {
	u := *s.origin
	if action == ActionExplore {
		u.Fragment = "dashboard"
	}
	return u.String()
}

// Displayed returns the notifications that can still be clicked, oldest
// first.
func (s *Service) Displayed() []*Notification {
	items := s.shown.Items()
	out := make([]*Notification, 0, len(items))
	for _, item := range items {
		if n, ok := item.Object.(*Notification); ok {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b *Notification) int {
		return a.ShownAt.Compare(b.ShownAt)
	})
	return out
}

// Recent returns the latest shown notifications, oldest first, including
// ones already clicked or expired.
func (s *Service) Recent() []*Notification {
	return s.history.Recent()
}

// Subscribe returns a channel receiving every shown notification and an
// id for Unsubscribe.
func (s *Service) Subscribe() (string, <-chan *Notification) {
	id := uuid.NewString()
	ch := make(chan *Notification, subscriberBuffer)
	s.subMu.Lock()
	s.subscribers[id] = ch
	s.subMu.Unlock()
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (s *Service) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Service) broadcast(n *Notification) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- n:
		default:
			s.log.Debug("subscriber too slow, notification dropped", logger.String("subscriber", id))
		}
	}
}

// Close ends all subscriptions and closes displayers holding connections.
func (s *Service) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()

	var errs []error
	for _, d := range s.displayers {
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
