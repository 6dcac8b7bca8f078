package worker

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/diitku/diitku-offline/internal/errors"
)

// EventKind names an event the worker handles.
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
	EventSync              EventKind = "sync"
)

// Event is anything Dispatch accepts.
type Event interface {
	Kind() EventKind
	base() *ExtendableEvent
}

// ExtendableEvent lets a handler register work that dispatch waits for.
// Dispatch returns only after every registered operation settled.
type ExtendableEvent struct {
	kind EventKind
	ctx  context.Context
	g    *errgroup.Group
}

func newExtendableEvent(ctx context.Context, kind EventKind) *ExtendableEvent {
	g, gctx := errgroup.WithContext(ctx)
	return &ExtendableEvent{kind: kind, ctx: gctx, g: g}
}

// Kind returns the event kind.
func (e *ExtendableEvent) Kind() EventKind { return e.kind }

func (e *ExtendableEvent) base() *ExtendableEvent { return e }

// Context is cancelled when the dispatch context ends or an operation
// registered with WaitUntil fails.
func (e *ExtendableEvent) Context() context.Context { return e.ctx }

// WaitUntil extends the event until fn returns. A panic in fn fails the
// event instead of the process.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("panic in %s handler: %v", e.kind, r).
					Component("worker").
					Category(errors.CategoryLifecycle).
					Build()
			}
		}()
		return fn(e.ctx)
	})
}

func (e *ExtendableEvent) settle() error {
	return e.g.Wait()
}

// InstallEvent is dispatched once per install attempt.
type InstallEvent struct {
	*ExtendableEvent
}

// ActivateEvent is dispatched when the worker takes over.
type ActivateEvent struct {
	*ExtendableEvent
}

// FetchEvent carries one intercepted request. The handler writes exactly
// one response to Writer.
type FetchEvent struct {
	*ExtendableEvent
	Request *http.Request
	Writer  http.ResponseWriter
}

// PushEvent carries the raw push message body, possibly empty.
type PushEvent struct {
	*ExtendableEvent
	Data []byte
}

// NotificationClickEvent reports a click on a displayed notification.
type NotificationClickEvent struct {
	*ExtendableEvent
	Action string
	Tag    string
}

// SyncEvent is a background sync trigger.
type SyncEvent struct {
	*ExtendableEvent
	Tag string
}

// NewInstallEvent creates an install event bound to ctx.
func NewInstallEvent(ctx context.Context) *InstallEvent {
	return &InstallEvent{newExtendableEvent(ctx, EventInstall)}
}

// NewActivateEvent creates an activate event bound to ctx.
func NewActivateEvent(ctx context.Context) *ActivateEvent {
	return &ActivateEvent{newExtendableEvent(ctx, EventActivate)}
}

// NewFetchEvent wraps an intercepted request.
func NewFetchEvent(w http.ResponseWriter, r *http.Request) *FetchEvent {
	return &FetchEvent{ExtendableEvent: newExtendableEvent(r.Context(), EventFetch), Request: r, Writer: w}
}

// NewPushEvent wraps a push message body.
func NewPushEvent(ctx context.Context, data []byte) *PushEvent {
	return &PushEvent{ExtendableEvent: newExtendableEvent(ctx, EventPush), Data: data}
}

// NewNotificationClickEvent wraps a notification click.
func NewNotificationClickEvent(ctx context.Context, action, tag string) *NotificationClickEvent {
	return &NotificationClickEvent{
		ExtendableEvent: newExtendableEvent(ctx, EventNotificationClick),
		Action:          action,
		Tag:             tag,
	}
}

// NewSyncEvent wraps a sync trigger.
func NewSyncEvent(ctx context.Context, tag string) *SyncEvent {
	return &SyncEvent{ExtendableEvent: newExtendableEvent(ctx, EventSync), Tag: tag}
}
