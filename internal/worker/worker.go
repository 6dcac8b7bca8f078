// Package worker runs the offline worker lifecycle: install provisions the
// static bucket, activate removes stale buckets and claims clients, and
// functional events (fetch, push, notificationclick, sync) are dispatched
// through a table fixed at construction from the version profile.
package worker

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/diitku/diitku-offline/internal/backgroundsync"
	"github.com/diitku/diitku-offline/internal/cachestorage"
	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/datastore/entities"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/network"
	"github.com/diitku/diitku-offline/internal/observability/metrics"
	"github.com/diitku/diitku-offline/internal/router"
)

// State is a lifecycle state.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

var allStates = []string{
	string(StateParsed), string(StateInstalling), string(StateInstalled),
	string(StateActivating), string(StateActivated), string(StateRedundant),
}

var (
	// ErrNotActive is returned for functional events before activation.
	ErrNotActive = errors.NewStd("worker is not activated")
	// ErrUnsupportedEvent is returned when the version has no handler
	// for an event kind.
	ErrUnsupportedEvent = errors.NewStd("event not handled by this worker version")
	// ErrInvalidState is returned when a lifecycle step is requested from
	// a state that does not allow it.
	ErrInvalidState = errors.NewStd("invalid lifecycle state")
)

// ClientController claims connected clients for a version.
type ClientController interface {
	Claim(version string) int
	ControlledByOther(version string) bool
}

// PushHandler displays a notification for a push message.
type PushHandler interface {
	HandlePush(ctx context.Context, data []byte) error
}

// ClickHandler reacts to a notification click.
type ClickHandler interface {
	HandleClick(ctx context.Context, action, tag string) error
}

// SyncHandler runs one background sync attempt for a tag.
type SyncHandler interface {
	Handle(ctx context.Context, tag string) error
}

// Options configures a Worker. Profile, Origin, Storage and Fetcher are
// required.
type Options struct {
	Profile Profile
	Origin  string
	Storage *cachestorage.Storage
	Fetcher network.Fetcher
	Clients ClientController
	// Push and Click default to the process notification service.
	Push  PushHandler
	Click ClickHandler
	// Sync defaults to a manager with no-op store and remote.
	Sync         SyncHandler
	InstallRetry conf.RetrySettings
	Metrics      *metrics.Metrics
	Log          logger.Logger
}

type handlerFunc func(ev Event) error

// Worker is one worker version bound to an origin.
type Worker struct {
	profile      Profile
	storage      *cachestorage.Storage
	router       *router.Router
	provisioner  *provisioner
	janitor      *janitor
	clients      ClientController
	push         PushHandler
	click        ClickHandler
	sync         SyncHandler
	installRetry conf.RetrySettings
	metrics      *metrics.Metrics
	log          logger.Logger
	bus          *StateBus
	handlers     map[EventKind]handlerFunc

	mu          sync.RWMutex
	state       State
	skipWaiting bool
}

// New builds a worker in the parsed state.
func New(opts Options) (*Worker, error) {
	if opts.Storage == nil || opts.Fetcher == nil {
		return nil, errors.Newf("worker needs storage and a fetcher").
			Component("worker").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := OriginURL(opts.Origin); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = logger.Global()
	}
	log = log.Module("worker").With(logger.String("version", opts.Profile.Version))

	rt, err := router.New(router.Config{
		Origin:      opts.Origin,
		Cache:       opts.Storage,
		Fetcher:     opts.Fetcher,
		GoalsWidget: opts.Profile.GoalsWidget,
		Metrics:     opts.Metrics,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}

	w := &Worker{
		profile: opts.Profile,
		storage: opts.Storage,
		router:  rt,
		provisioner: &provisioner{
			profile: opts.Profile,
			origin:  opts.Origin,
			storage: opts.Storage,
			fetcher: opts.Fetcher,
			metrics: opts.Metrics,
			log:     log,
		},
		janitor: &janitor{
			profile: opts.Profile,
			storage: opts.Storage,
			clients: opts.Clients,
			metrics: opts.Metrics,
			log:     log,
		},
		clients:      opts.Clients,
		push:         opts.Push,
		click:        opts.Click,
		sync:         opts.Sync,
		installRetry: opts.InstallRetry,
		metrics:      opts.Metrics,
		log:          log,
		bus:          NewStateBus(log),
		state:        StateParsed,
	}
	if w.push == nil || w.click == nil {
		adapter := &notificationAdapter{}
		if w.push == nil {
			w.push = adapter
		}
		if w.click == nil {
			w.click = adapter
		}
	}
	if w.sync == nil {
		w.sync = backgroundsync.NewManager(backgroundsync.NoopStore{}, backgroundsync.NoopRemote{}, opts.Metrics, log)
	}
	w.handlers = w.buildHandlers()
	w.metrics.SetState(w.profile.Version, string(StateParsed), allStates)
	return w, nil
}

func (w *Worker) buildHandlers() map[EventKind]handlerFunc {
	h := map[EventKind]handlerFunc{
		EventInstall:  w.onInstall,
		EventActivate: w.onActivate,
		EventFetch:    w.onFetch,
	}
	if w.profile.Push {
		h[EventPush] = w.onPush
		h[EventNotificationClick] = w.onNotificationClick
	}
	if w.profile.Sync {
		h[EventSync] = w.onSync
	}
	return h
}

// Handles reports whether the version has a handler for kind.
func (w *Worker) Handles(kind EventKind) bool {
	_, ok := w.handlers[kind]
	return ok
}

// Events lists the handled event kinds, sorted.
func (w *Worker) Events() []EventKind {
	kinds := make([]EventKind, 0, len(w.handlers))
	for k := range w.handlers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Dispatch runs the handler for ev and waits for every operation it
// registered with WaitUntil. The first error is returned.
func (w *Worker) Dispatch(ev Event) error {
	h, ok := w.handlers[ev.Kind()]
	if !ok {
		return errors.New(ErrUnsupportedEvent).
			Component("worker").
			Category(errors.CategoryLifecycle).
			Context("event", string(ev.Kind())).
			Context("version", w.profile.Version).
			Build()
	}
	err := w.safeCall(h, ev)
	if settleErr := ev.base().settle(); err == nil {
		err = settleErr
	}
	w.metrics.RecordEvent(string(ev.Kind()), err)
	return err
}

// safeCall turns a handler panic into an error.
func (w *Worker) safeCall(h handlerFunc, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("event handler panicked",
				logger.String("event", string(ev.Kind())),
				logger.Any("panic", r))
			err = errors.Newf("panic in %s handler: %v", ev.Kind(), r).
				Component("worker").
				Category(errors.CategoryLifecycle).
				Build()
		}
	}()
	return h(ev)
}

func (w *Worker) onInstall(ev Event) error {
	ev.base().WaitUntil(func(ctx context.Context) error {
		if err := w.provisioner.Provision(ctx); err != nil {
			return err
		}
		if w.profile.SkipWaiting {
			w.mu.Lock()
			w.skipWaiting = true
			w.mu.Unlock()
		}
		return nil
	})
	return nil
}

func (w *Worker) onActivate(ev Event) error {
	ev.base().WaitUntil(func(ctx context.Context) error {
		_, err := w.janitor.Sweep(ctx)
		return err
	})
	return nil
}

func (w *Worker) onFetch(ev Event) error {
	fe := ev.(*FetchEvent)
	return w.router.ServeFetch(fe.Writer, fe.Request)
}

func (w *Worker) onPush(ev Event) error {
	pe := ev.(*PushEvent)
	pe.WaitUntil(func(ctx context.Context) error {
		return w.push.HandlePush(ctx, pe.Data)
	})
	return nil
}

func (w *Worker) onNotificationClick(ev Event) error {
	ce := ev.(*NotificationClickEvent)
	ce.WaitUntil(func(ctx context.Context) error {
		return w.click.HandleClick(ctx, ce.Action, ce.Tag)
	})
	return nil
}

func (w *Worker) onSync(ev Event) error {
	se := ev.(*SyncEvent)
	se.WaitUntil(func(ctx context.Context) error {
		return w.sync.Handle(ctx, se.Tag)
	})
	return nil
}

// Install runs one install attempt. A failure leaves the worker redundant;
// a later attempt may start over from there.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition([]State{StateParsed, StateRedundant}, StateInstalling, nil); err != nil {
		return err
	}
	err := w.Dispatch(NewInstallEvent(ctx))
	if err != nil {
		w.log.Error("install failed", logger.Error(err))
		w.setState(StateRedundant, err)
		return err
	}
	w.setState(StateInstalled, nil)
	return nil
}

// Activate deletes stale buckets and claims clients. On failure the worker
// stays installed.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition([]State{StateInstalled}, StateActivating, nil); err != nil {
		return err
	}
	if err := w.Dispatch(NewActivateEvent(ctx)); err != nil {
		w.log.Error("activate failed", logger.Error(err))
		w.setState(StateInstalled, err)
		return err
	}
	w.setState(StateActivated, nil)
	return nil
}

// Start installs with exponential backoff, then activates right away when
// skip-waiting was signalled or no client is controlled by another
// version. Otherwise the worker waits in the installed state.
func (w *Worker) Start(ctx context.Context) error {
	attempts := max(w.installRetry.MaxAttempts, 1)
	b := backoff.NewExponentialBackOff()
	if d := w.installRetry.InitialInterval.Std(); d > 0 {
		b.InitialInterval = d
	}
	if d := w.installRetry.MaxInterval.Std(); d > 0 {
		b.MaxInterval = d
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		err := w.Install(ctx)
		if errors.Is(err, ErrInvalidState) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		w.log.Warn("install attempt failed, retrying",
			logger.Duration("retry_in", next),
			logger.Error(err))
	})
	if err != nil {
		return err
	}

	if !w.SkipWaiting() && w.clients != nil && w.clients.ControlledByOther(w.profile.Version) {
		w.log.Info("installed, waiting for clients of the previous version to close")
		return nil
	}
	return w.Activate(ctx)
}

// ServeFetch answers an intercepted request. Before activation requests go
// straight to the network.
func (w *Worker) ServeFetch(rw http.ResponseWriter, r *http.Request) error {
	if w.State() != StateActivated {
		return w.router.PassThrough(rw, r)
	}
	return w.Dispatch(NewFetchEvent(rw, r))
}

// Push delivers a push message body.
func (w *Worker) Push(ctx context.Context, data []byte) error {
	if err := w.requireActive(EventPush); err != nil {
		return err
	}
	return w.Dispatch(NewPushEvent(ctx, data))
}

// NotificationClick delivers a notification click.
func (w *Worker) NotificationClick(ctx context.Context, action, tag string) error {
	if err := w.requireActive(EventNotificationClick); err != nil {
		return err
	}
	return w.Dispatch(NewNotificationClickEvent(ctx, action, tag))
}

// Sync delivers one background sync trigger.
func (w *Worker) Sync(ctx context.Context, tag string) error {
	if err := w.requireActive(EventSync); err != nil {
		return err
	}
	return w.Dispatch(NewSyncEvent(ctx, tag))
}

// Retryable reports whether a failed event may succeed when delivered
// again.
func Retryable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNotActive) &&
		!errors.Is(err, ErrUnsupportedEvent) &&
		!errors.Is(err, ErrInvalidState)
}

func (w *Worker) requireActive(kind EventKind) error {
	if state := w.State(); state != StateActivated {
		return errors.New(ErrNotActive).
			Component("worker").
			Category(errors.CategoryLifecycle).
			Context("event", string(kind)).
			Context("state", string(state)).
			Build()
	}
	return nil
}

// Status is a snapshot for the control API and CLI.
type Status struct {
	Version     string                 `json:"version"`
	State       State                  `json:"state"`
	SkipWaiting bool                   `json:"skip_waiting"`
	Events      []EventKind            `json:"events"`
	Routes      []string               `json:"routes"`
	Buckets     []entities.BucketStats `json:"buckets"`
}

// Status reports the lifecycle state and bucket usage.
func (w *Worker) Status(ctx context.Context) (*Status, error) {
	stats, err := w.storage.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Version:     w.profile.Version,
		State:       w.State(),
		SkipWaiting: w.SkipWaiting(),
		Events:      w.Events(),
		Routes:      w.router.Routes(),
		Buckets:     stats,
	}, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SkipWaiting reports whether install signalled skip-waiting.
func (w *Worker) SkipWaiting() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

// Profile returns the version profile.
func (w *Worker) Profile() Profile {
	return w.profile
}

// OnStateChange registers a handler for lifecycle transitions. Handlers
// run on the bus goroutine.
func (w *Worker) OnStateChange(h StateHandler) {
	w.bus.Subscribe(h)
}

// Close stops the state bus after delivering pending changes.
func (w *Worker) Close() {
	w.bus.Stop()
}

// transition moves to next only from one of the allowed states.
func (w *Worker) transition(from []State, next State, cause error) error {
	w.mu.Lock()
	cur := w.state
	if !slices.Contains(from, cur) {
		w.mu.Unlock()
		return errors.New(ErrInvalidState).
			Component("worker").
			Category(errors.CategoryLifecycle).
			Context("state", string(cur)).
			Context("requested", string(next)).
			Build()
	}
	w.state = next
	w.mu.Unlock()
	w.announce(cur, next, cause)
	return nil
}

func (w *Worker) setState(next State, cause error) {
	w.mu.Lock()
	cur := w.state
	w.state = next
	w.mu.Unlock()
	w.announce(cur, next, cause)
}

func (w *Worker) announce(from, to State, cause error) {
	w.metrics.SetState(w.profile.Version, string(to), allStates)
	w.log.Info("worker state changed",
		logger.String("from", string(from)),
		logger.String("to", string(to)))
	change := &StateChange{Version: w.profile.Version, From: from, To: to}
	if cause != nil {
		change.Err = cause.Error()
	}
	w.bus.Publish(change)
}
