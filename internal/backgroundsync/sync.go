// Package backgroundsync flushes transactions recorded while offline once
// a sync trigger arrives. Storage of pending transactions and the remote
// endpoint are interfaces; the defaults do nothing.
package backgroundsync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/observability/metrics"
)

// TagTransactions is the only sync tag acted on.
const TagTransactions = "background-sync-transactions"

// PendingTransaction is a transaction waiting to reach the server.
type PendingTransaction struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// PendingTransactionStore holds transactions recorded offline.
type PendingTransactionStore interface {
	List(ctx context.Context) ([]PendingTransaction, error)
	Remove(ctx context.Context, id string) error
}

// RemoteSyncClient forwards one transaction to the server.
type RemoteSyncClient interface {
	Forward(ctx context.Context, tx PendingTransaction) error
}

// NoopStore never has anything pending.
type NoopStore struct{}

func (NoopStore) List(context.Context) ([]PendingTransaction, error) { return nil, nil }
func (NoopStore) Remove(context.Context, string) error              { return nil }

// NoopRemote accepts everything.
type NoopRemote struct{}

func (NoopRemote) Forward(context.Context, PendingTransaction) error { return nil }

// Result summarizes one sync attempt.
type Result struct {
	Tag       string `json:"tag"`
	Ignored   bool   `json:"ignored,omitempty"`
	Pending   int    `json:"pending"`
	Forwarded int    `json:"forwarded"`
	Failed    int    `json:"failed"`
}

// Manager runs sync attempts.
type Manager struct {
	store   PendingTransactionStore
	remote  RemoteSyncClient
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewManager creates a Manager. Nil store or remote fall back to the
// no-op implementations.
func NewManager(store PendingTransactionStore, remote RemoteSyncClient, m *metrics.Metrics, log logger.Logger) *Manager {
	if store == nil {
		store = NoopStore{}
	}
	if remote == nil {
		remote = NoopRemote{}
	}
	if log == nil {
		log = logger.Global()
	}
	return &Manager{store: store, remote: remote, metrics: m, log: log.Module("backgroundsync")}
}

// Handle runs one attempt for tag. Unknown tags are ignored.
func (m *Manager) Handle(ctx context.Context, tag string) error {
	_, err := m.Sync(ctx, tag)
	return err
}

// Sync runs one attempt for tag and reports what happened. A failure to
// list pending transactions aborts the attempt; a failure on one
// transaction is logged and the rest are still processed.
func (m *Manager) Sync(ctx context.Context, tag string) (*Result, error) {
	res := &Result{Tag: tag}
	if tag != TagTransactions {
		m.log.Debug("ignoring sync tag", logger.String("tag", tag))
		res.Ignored = true
		return res, nil
	}

	pending, err := m.store.List(ctx)
	if err != nil {
		return nil, errors.New(err).
			Component("backgroundsync").
			Category(errors.CategorySync).
			Context("operation", "list_pending").
			Build()
	}
	res.Pending = len(pending)

	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := m.forward(ctx, tx)
		m.metrics.RecordSyncItem(err)
		if err != nil {
			res.Failed++
			m.log.Warn("failed to sync transaction",
				logger.String("transaction_id", tx.ID),
				logger.Error(err))
			continue
		}
		res.Forwarded++
	}

	if res.Pending > 0 {
		m.log.Info("background sync finished",
			logger.Int("pending", res.Pending),
			logger.Int("forwarded", res.Forwarded),
			logger.Int("failed", res.Failed))
	}
	return res, nil
}

func (m *Manager) forward(ctx context.Context, tx PendingTransaction) error {
	if err := m.remote.Forward(ctx, tx); err != nil {
		return err
	}
	return m.store.Remove(ctx, tx.ID)
}

// Retry calls fn until it succeeds, returns a permanent error, or the
// attempts in settings are used up. Delays grow exponentially.
func Retry(ctx context.Context, settings conf.RetrySettings, log logger.Logger, fn func(ctx context.Context) error) error {
	attempts := max(settings.MaxAttempts, 1)
	b := backoff.NewExponentialBackOff()
	if d := settings.InitialInterval.Std(); d > 0 {
		b.InitialInterval = d
	}
	if d := settings.MaxInterval.Std(); d > 0 {
		b.MaxInterval = d
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error { return fn(ctx) }, policy, func(err error, next time.Duration) {
		log.Warn("sync attempt failed, retrying",
			logger.Duration("retry_in", next),
			logger.Error(err))
	})
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
