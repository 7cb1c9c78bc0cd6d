package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/lending"
)

// NewTopUpCommand creates the topup command.
func NewTopUpCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topup <handle> <tickets>",
		Short: "Add tickets to a user's balance",
		Long: `Credit a user with tickets bought outside the lending flow.

Example:
  shelfshare topup ann 20`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopUp(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runTopUp(opts *RootOptions, handle, amountArg string, cmd *cobra.Command) error {
	amount, err := strconv.ParseInt(amountArg, 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid ticket amount %q", amountArg), err)
	}

	ctx := commandContext(cmd)
	st, cfg, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore(st)

	svc := lending.New(st, lending.WithOptions(cfg.LendingOptions()))
	u, err := svc.TopUp(ctx, handle, amount)
	if err != nil {
		code := ExitFailure
		if domain.IsInvalidArgument(err) {
			code = ExitCommandError
		}
		return WrapExitError(code, "top up failed", err)
	}

	return newFormatter(cmd, opts).Success(
		fmt.Sprintf("%s now has %d tickets\n", u.Handle, u.TicketBalance),
		map[string]any{"handle": u.Handle, "tickets": u.TicketBalance},
	)
}
