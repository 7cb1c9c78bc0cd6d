package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/reconcile"
)

func TestReconcile_Clean(t *testing.T) {
	e := newCLIEnv(t, "")

	out, err := e.run(t, "reconcile")
	require.NoError(t, err)
	assert.Equal(t, "Outbox: 0 undispatched, 0 pending, 0 dead\n✓ No findings\n", out)
}

func seedLentWithoutClaim(t *testing.T, e *cliEnv) {
	e.seed(t, func(ctx context.Context, st *docstore.Store) {
		require.NoError(t, st.Commit(ctx, docstore.Create(domain.CollectionBooks, "b1", domain.Book{
			ID:           "b1",
			Owner:        "ann",
			Title:        "Dune",
			Availability: domain.AvailabilityProvided,
		})))
	})
}

func TestReconcile_Findings(t *testing.T) {
	e := newCLIEnv(t, "")
	seedLentWithoutClaim(t, e)

	out, err := e.run(t, "reconcile")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "1 finding(s)", err.Error())

	assert.Contains(t, out, `✗ availability-mismatch books/b1: availability provided with loan claim ""`)
	assert.Contains(t, out, "Outbox: 1 undispatched, 0 pending, 0 dead")
	assert.Contains(t, out, "Not settled")
}

func TestReconcile_FindingsJSON(t *testing.T) {
	e := newCLIEnv(t, "")
	seedLentWithoutClaim(t, e)

	out, err := e.run(t, "--format", "json", "reconcile")
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   reconcile.Report `json:"data"`
		Error  *ResponseError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_FINDINGS", resp.Error.Code)
	require.Len(t, resp.Data.Findings, 1)
	assert.Equal(t, reconcile.AvailabilityMismatch, resp.Data.Findings[0].Kind)
	assert.Equal(t, int64(1), resp.Data.UndispatchedChanges)
}

func TestReconcile_CleanJSON(t *testing.T) {
	e := newCLIEnv(t, "")

	out, err := e.run(t, "--format", "json", "reconcile")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": "ok",
		"data": {"findings": [], "undispatchedChanges": 0, "pendingDeliveries": 0, "deadDeliveries": 0}
	}`, out)
}
