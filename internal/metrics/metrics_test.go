package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

func TestOperationFinished(t *testing.T) {
	c := NewCollector("test")

	c.OperationFinished("submit request", nil, 5*time.Millisecond)
	c.OperationFinished("submit request", domain.AlreadyExists("request", "r1", "dup"), time.Millisecond)
	c.OperationFinished("submit request", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("submit request", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("submit request", "ALREADY_EXISTS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("submit request", "error")))
}

func TestReactionFinished(t *testing.T) {
	c := NewCollector("test")

	c.ReactionFinished("transfer-tickets", true)
	c.ReactionFinished("transfer-tickets", false)
	c.ReactionFinished("transfer-tickets", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.reactions.WithLabelValues("transfer-tickets", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reactions.WithLabelValues("transfer-tickets", "false")))
}

func TestDeliveries(t *testing.T) {
	c := NewCollector("")

	c.DeliverySucceeded("flip-availability", 2*time.Millisecond)
	c.DeliveryFailed("flip-availability", 1, false)
	c.DeliveryFailed("flip-availability", 10, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("flip-availability", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("flip-availability", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("flip-availability", "dead")))
}

func TestRequestServed(t *testing.T) {
	c := NewCollector("test")

	c.RequestServed("/requests/{requestId}/accept", http.MethodPost, http.StatusOK)
	c.RequestServed("/requests/{requestId}/accept", http.MethodPost, http.StatusConflict)
	c.RequestServed("/requests/{requestId}/accept", http.MethodPost, http.StatusConflict)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/requests/{requestId}/accept", "POST", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/requests/{requestId}/accept", "POST", "409")))
}

func TestWatchOutbox(t *testing.T) {
	s, err := docstore.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := t.Context()
	require.NoError(t, s.Commit(ctx, docstore.Create("books", "b1", map[string]any{"title": "Dune"})))
	changes, err := s.PendingChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.NoError(t, s.EnqueueDeliveries(ctx, changes[0].Seq, []string{"a", "b"}))

	c := NewCollector("test")
	c.WatchOutbox(s, "test")

	expected := `
# HELP test_changefeed_deliveries Deliveries currently in each status
# TYPE test_changefeed_deliveries gauge
test_changefeed_deliveries{status="dead"} 0
test_changefeed_deliveries{status="done"} 0
test_changefeed_deliveries{status="pending"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "test_changefeed_deliveries"))
}

func TestHandler(t *testing.T) {
	c := NewCollector("test")
	c.ReactionFinished("hall-grant", true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_cascade_reactions_total{applied="true",reaction="hall-grant"} 1`)
}
