package notification

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyItem(t *testing.T, title string) (*Notification, int) {
	t.Helper()
	base, err := url.Parse("http://localhost:8080")
	require.NoError(t, err)
	n := Build(Payload{Title: title}, base, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	b, err := json.Marshal(n)
	require.NoError(t, err)
	return n, len(b) + 1
}

func titles(ns []*Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Title)
	}
	return out
}

func TestHistory_EvictsOldest(t *testing.T) {
	t.Parallel()
	first, size := historyItem(t, "n1")
	second, _ := historyItem(t, "n2")
	third, _ := historyItem(t, "n3")

	h := NewHistory(2*size + size/2)
	require.NoError(t, h.Record(first))
	require.NoError(t, h.Record(second))
	assert.Equal(t, []string{"n1", "n2"}, titles(h.Recent()))

	require.NoError(t, h.Record(third))
	got := h.Recent()
	assert.Equal(t, []string{"n2", "n3"}, titles(got))
	assert.Equal(t, third.ID, got[1].ID)
	assert.Equal(t, 2*size, h.Len())
}

func TestHistory_RecentDoesNotConsume(t *testing.T) {
	t.Parallel()
	n, _ := historyItem(t, "kept")
	h := NewHistory(0)
	assert.Empty(t, h.Recent())

	require.NoError(t, h.Record(n))
	for range 3 {
		assert.Equal(t, []string{"kept"}, titles(h.Recent()))
	}
}

func TestHistory_SkipsOversized(t *testing.T) {
	t.Parallel()
	small, size := historyItem(t, "small")
	big, _ := historyItem(t, strings.Repeat("x", 2*size))

	h := NewHistory(size * 2)
	require.NoError(t, h.Record(small))
	require.NoError(t, h.Record(big))
	assert.Equal(t, []string{"small"}, titles(h.Recent()))
}

func TestService_RecentSurvivesClick(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil, &fakeOpener{})
	require.NoError(t, svc.HandlePush(t.Context(), []byte(`{"title":"one"}`)))
	require.NoError(t, svc.HandlePush(t.Context(), []byte(`{"title":"two"}`)))

	shown := svc.Displayed()
	require.Len(t, shown, 2)
	require.NoError(t, svc.HandleClick(t.Context(), ActionClose, shown[0].Tag))

	assert.Len(t, svc.Displayed(), 1)
	assert.Equal(t, []string{"one", "two"}, titles(svc.Recent()))
}
