package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/lending"
)

// NewHallCommand creates the hall command and its subcommands.
func NewHallCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hall",
		Short: "Administer location halls",
		Long: `Open halls and manage their account capacity.

Members join a hall over HTTP; each join consumes one account.`,
		Args: cobra.NoArgs,
	}
	cmd.AddCommand(newHallCreateCommand(rootOpts))
	cmd.AddCommand(newHallAccountsCommand(rootOpts))
	return cmd
}

func newHallCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var image string
	cmd := &cobra.Command{
		Use:   "create <location>",
		Short: "Open a hall for a location",
		Long: `Open a hall with the configured default account capacity.

Example:
  shelfshare hall create Oviedo --image https://example.com/oviedo.png`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHallCreate(rootOpts, args[0], image, cmd)
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "hall image URL")
	return cmd
}

func runHallCreate(opts *RootOptions, location, image string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	st, cfg, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore(st)

	svc := lending.New(st, lending.WithOptions(cfg.LendingOptions()))
	h, err := svc.CreateHall(ctx, location, image)
	if err != nil {
		return WrapExitError(hallExitCode(err), "create hall failed", err)
	}
	return hallResult(cmd, opts, fmt.Sprintf("hall %s opened with %d accounts\n", h.Location, h.AccountCapacity), h)
}

func newHallAccountsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts <location> <count>",
		Short: "Add accounts to a hall",
		Long: `Raise a hall's account capacity.

Example:
  shelfshare hall accounts Oviedo 50`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHallAccounts(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runHallAccounts(opts *RootOptions, location, countArg string, cmd *cobra.Command) error {
	n, err := strconv.ParseInt(countArg, 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid account count %q", countArg), err)
	}

	ctx := commandContext(cmd)
	st, cfg, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore(st)

	svc := lending.New(st, lending.WithOptions(cfg.LendingOptions()))
	h, err := svc.BuyHallAccounts(ctx, location, n)
	if err != nil {
		return WrapExitError(hallExitCode(err), "buy hall accounts failed", err)
	}
	return hallResult(cmd, opts, fmt.Sprintf("hall %s now has %d accounts\n", h.Location, h.AccountCapacity), h)
}

func hallExitCode(err error) int {
	if domain.IsInvalidArgument(err) {
		return ExitCommandError
	}
	return ExitFailure
}

func hallResult(cmd *cobra.Command, opts *RootOptions, text string, h domain.Hall) error {
	return newFormatter(cmd, opts).Success(text, map[string]any{
		"location": h.Location,
		"accounts": h.AccountCapacity,
		"members":  len(h.Members),
	})
}
