package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// seedDeliveries leaves one dead and one pending delivery for a single
// change and returns the change's sequence number.
func seedDeliveries(t *testing.T, e *cliEnv) int64 {
	t.Helper()
	var seq int64
	e.seed(t, func(ctx context.Context, st *docstore.Store) {
		require.NoError(t, st.Commit(ctx, docstore.Create(domain.CollectionBooks, "b1", map[string]any{"bookId": "b1", "title": "Dune"})))
		changes, err := st.PendingChanges(ctx, 10)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		seq = changes[0].Seq

		require.NoError(t, st.EnqueueDeliveries(ctx, seq, []string{"comment-notify", "request-notify"}))
		require.NoError(t, st.FailDelivery(ctx, seq, "request-notify", errors.New("store unavailable"), time.Now(), true))
	})
	return seq
}

func TestDeliveries_ListPending(t *testing.T) {
	e := newCLIEnv(t, "")
	seedDeliveries(t, e)

	out, err := e.run(t, "deliveries")
	require.NoError(t, err)
	assert.Contains(t, out, "SUBSCRIBER")
	assert.Contains(t, out, "comment-notify")
	assert.Contains(t, out, "books/b1")
	assert.NotContains(t, out, "request-notify")
}

func TestDeliveries_ListDeadJSON(t *testing.T) {
	e := newCLIEnv(t, "")
	seq := seedDeliveries(t, e)

	out, err := e.run(t, "--format", "json", "deliveries", "--dead")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []DeliveryView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	d := resp.Data[0]
	assert.Equal(t, seq, d.Seq)
	assert.Equal(t, "request-notify", d.Subscriber)
	assert.Equal(t, "dead", d.Status)
	assert.Equal(t, "create", d.Kind)
	assert.Equal(t, 1, d.Attempts)
	assert.Equal(t, "store unavailable", d.LastError)
}

func TestDeliveries_Empty(t *testing.T) {
	e := newCLIEnv(t, "")

	out, err := e.run(t, "deliveries", "--dead")
	require.NoError(t, err)
	assert.Equal(t, "No dead deliveries.\n", out)
}

func TestDeliveriesRetry_One(t *testing.T) {
	e := newCLIEnv(t, "")
	seq := seedDeliveries(t, e)

	out, err := e.run(t, "deliveries", "retry", fmt.Sprint(seq), "request-notify")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Requeued %d/request-notify\n", seq), out)

	out, err = e.run(t, "deliveries", "--dead")
	require.NoError(t, err)
	assert.Equal(t, "No dead deliveries.\n", out)

	out, err = e.run(t, "deliveries")
	require.NoError(t, err)
	assert.Contains(t, out, "request-notify")
}

func TestDeliveriesRetry_NotDead(t *testing.T) {
	e := newCLIEnv(t, "")
	seq := seedDeliveries(t, e)

	out, err := e.run(t, "deliveries", "retry", fmt.Sprint(seq), "comment-notify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NOT_FOUND]")
	assert.Contains(t, err.Error(), fmt.Sprintf("no dead delivery %d/comment-notify", seq))
}

func TestDeliveriesRetry_All(t *testing.T) {
	e := newCLIEnv(t, "")
	seedDeliveries(t, e)

	out, err := e.run(t, "deliveries", "retry", "--all")
	require.NoError(t, err)
	assert.Equal(t, "Requeued 1 dead deliveries\n", out)

	out, err = e.run(t, "deliveries", "retry", "--all")
	require.NoError(t, err)
	assert.Equal(t, "Requeued 0 dead deliveries\n", out)
}

func TestDeliveriesRetry_BadArgs(t *testing.T) {
	e := newCLIEnv(t, "")

	_, err := e.run(t, "deliveries", "retry", "seven", "request-notify")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid change sequence "seven"`)

	_, err = e.run(t, "deliveries", "retry", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg(s)")

	_, err = e.run(t, "deliveries", "retry", "--all", "7", "request-notify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}
