// Package telemetry reports errors to Sentry when a DSN is configured.
// Without a DSN every call is a no-op.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/errors"
)

// Reporter sends errors to Sentry. The zero value and nil are disabled.
type Reporter struct {
	hub *sentry.Hub
}

// New creates a Reporter. An empty DSN gives a disabled Reporter.
func New(settings conf.SentrySettings, release string) (*Reporter, error) {
	if settings.DSN == "" {
		return &Reporter{}, nil
	}
	return newReporter(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		Release:          release,
		AttachStacktrace: true,
	})
}

func newReporter(opts sentry.ClientOptions) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Enabled reports whether errors are sent anywhere.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// CaptureError sends err with its component, category and context as
// tags and extra data. Extra tags are added as given.
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("category", string(errors.CategoryOf(err)))
		if c := errors.ComponentOf(err); c != "" {
			scope.SetTag("component", c)
		}
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			if ctx := ee.GetContext(); len(ctx) > 0 {
				scope.SetContext("error", ctx)
			}
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for queued events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}
