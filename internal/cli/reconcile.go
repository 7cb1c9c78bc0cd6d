package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/shelfshare/internal/reconcile"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile sweep",
		Long: `Check the store for lending inconsistencies once and report them.

The sweep only reads. Findings are reliable when the report is settled,
that is when no change or delivery was still in flight.

Exit codes:
  0 - No findings
  1 - One or more findings
  2 - Command error

Example:
  shelfshare reconcile --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, cmd)
		},
	}
	return cmd
}

func runReconcile(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	st, _, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore(st)

	rep, err := reconcile.NewSweeper(st).Sweep(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "reconcile sweep failed", err)
	}
	if rep.Findings == nil {
		rep.Findings = []reconcile.Finding{}
	}

	out := newFormatter(cmd, opts)
	if rep.Clean() {
		return out.Success(formatReport(rep), rep)
	}
	msg := fmt.Sprintf("%d finding(s)", len(rep.Findings))
	if err := out.Failure("E_FINDINGS", msg, formatReport(rep), rep); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

func formatReport(rep reconcile.Report) string {
	var b strings.Builder
	for _, f := range rep.Findings {
		fmt.Fprintf(&b, "✗ %s %s: %s\n", f.Kind, f.Path, f.Detail)
	}
	fmt.Fprintf(&b, "Outbox: %d undispatched, %d pending, %d dead\n",
		rep.UndispatchedChanges, rep.PendingDeliveries, rep.DeadDeliveries)
	switch {
	case !rep.Settled():
		fmt.Fprintln(&b, "Not settled: findings may be transient")
	case rep.Clean():
		fmt.Fprintln(&b, "✓ No findings")
	}
	return b.String()
}
