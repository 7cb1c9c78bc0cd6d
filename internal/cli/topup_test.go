package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/lending"
)

func seedUser(t *testing.T, e *cliEnv, handle string) {
	e.seed(t, func(ctx context.Context, st *docstore.Store) {
		_, err := lending.New(st).CreateUser(ctx, lending.NewUser{Handle: handle})
		require.NoError(t, err)
	})
}

func TestTopUp(t *testing.T) {
	e := newCLIEnv(t, "")
	seedUser(t, e, "ann")

	out, err := e.run(t, "topup", "ann", "20")
	require.NoError(t, err)
	assert.Equal(t, "ann now has 120 tickets\n", out)

	out, err = e.run(t, "--format", "json", "topup", "ann", "5")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "ok", "data": {"handle": "ann", "tickets": 125}}`, out)
}

func TestTopUp_Errors(t *testing.T) {
	e := newCLIEnv(t, "")
	seedUser(t, e, "ann")

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"not a number", []string{"topup", "ann", "many"}, ExitCommandError, `invalid ticket amount "many"`},
		{"not positive", []string{"topup", "ann", "0"}, ExitCommandError, "top-up amount must be positive"},
		{"unknown user", []string{"topup", "zed", "5"}, ExitFailure, "top up failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
