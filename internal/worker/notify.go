package worker

import (
	"context"

	"github.com/diitku/diitku-offline/internal/notification"
)

// notificationAdapter resolves the notification service on every call so
// the worker can be built before the service is initialized.
type notificationAdapter struct{}

func (a *notificationAdapter) HandlePush(ctx context.Context, data []byte) error {
	svc := notification.GetService()
	if svc == nil {
		return nil // notification service not yet initialized
	}
	return svc.HandlePush(ctx, data)
}

func (a *notificationAdapter) HandleClick(ctx context.Context, action, tag string) error {
	svc := notification.GetService()
	if svc == nil {
		return nil
	}
	return svc.HandleClick(ctx, action, tag)
}
