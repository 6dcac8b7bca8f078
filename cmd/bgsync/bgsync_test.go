package bgsync

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diitku/diitku-offline/internal/backgroundsync"
	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
)

type listOnce struct {
	failures int
	items    []backgroundsync.PendingTransaction
}

func (l *listOnce) List(context.Context) ([]backgroundsync.PendingTransaction, error) {
	if l.failures > 0 {
		l.failures--
		return nil, errors.NewStd("store offline")
	}
	return l.items, nil
}

func (l *listOnce) Remove(context.Context, string) error { return nil }

var fastRetry = conf.RetrySettings{
	MaxAttempts:     3,
	InitialInterval: conf.Duration(time.Millisecond),
	MaxInterval:     conf.Duration(2 * time.Millisecond),
}

func TestRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		store   *listOnce
		tag     string
		want    string
		wantErr bool
	}{
		{
			name:  "forwards pending",
			store: &listOnce{items: []backgroundsync.PendingTransaction{{ID: "a"}, {ID: "b"}}},
			tag:   backgroundsync.TagTransactions,
			want:  "background-sync-transactions: 2 pending, 2 forwarded, 0 failed\n",
		},
		{
			name:  "retries a failed listing",
			store: &listOnce{failures: 2},
			tag:   backgroundsync.TagTransactions,
			want:  "background-sync-transactions: 0 pending, 0 forwarded, 0 failed\n",
		},
		{
			name:    "gives up",
			store:   &listOnce{failures: 3},
			tag:     backgroundsync.TagTransactions,
			wantErr: true,
		},
		{
			name:  "other tag",
			store: &listOnce{},
			tag:   "something-else",
			want:  "something-else: no handler for this tag\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := backgroundsync.NewManager(tt.store, nil, nil, logger.Discard())
			var out bytes.Buffer
			err := Run(t.Context(), m, fastRetry, tt.tag, logger.Discard(), &out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}
