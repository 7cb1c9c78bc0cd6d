package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/shelfshare/internal/docstore"
)

// DeliveriesOptions holds flags for the deliveries command.
type DeliveriesOptions struct {
	*RootOptions
	Dead  bool // list dead deliveries instead of pending ones
	Limit int
}

// DeliveryView is one delivery as the CLI reports it.
type DeliveryView struct {
	Seq           int64     `json:"seq"`
	Collection    string    `json:"collection"`
	DocID         string    `json:"doc_id"`
	Kind          string    `json:"kind"`
	Subscriber    string    `json:"subscriber"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
}

func viewDelivery(d docstore.Delivery) DeliveryView {
	return DeliveryView{
		Seq:           d.Change.Seq,
		Collection:    d.Change.Collection,
		DocID:         d.Change.DocID,
		Kind:          string(d.Change.Kind),
		Subscriber:    d.Subscriber,
		Status:        string(d.Status),
		Attempts:      d.Attempts,
		NextAttemptAt: d.NextAttemptAt.UTC(),
		LastError:     d.LastError,
	}
}

// NewDeliveriesCommand creates the deliveries command.
func NewDeliveriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeliveriesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "List outbox deliveries",
		Long: `List change feed deliveries that have not completed.

By default pending deliveries are listed, oldest due first. With --dead,
deliveries that exhausted their retries are listed instead; use
"deliveries retry" to put them back in the queue.

Examples:
  shelfshare deliveries
  shelfshare deliveries --dead --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeliveries(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Dead, "dead", false, "list dead deliveries")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum deliveries to list (0 for all)")

	cmd.AddCommand(newRetryCommand(rootOpts))
	return cmd
}

func runDeliveries(opts *DeliveriesOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	st, _, err := openStore(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStore(st)

	status := docstore.DeliveryPending
	if opts.Dead {
		status = docstore.DeliveryDead
	}
	list, err := st.Deliveries(ctx, status, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list deliveries", err)
	}

	views := make([]DeliveryView, 0, len(list))
	for _, d := range list {
		views = append(views, viewDelivery(d))
	}
	return newFormatter(cmd, opts.RootOptions).Success(formatDeliveries(status, views), views)
}

func formatDeliveries(status docstore.DeliveryStatus, views []DeliveryView) string {
	if len(views) == 0 {
		return fmt.Sprintf("No %s deliveries.\n", status)
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSUBSCRIBER\tDOCUMENT\tKIND\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s/%s\t%s\t%d\t%s\t%s\n",
			v.Seq, v.Subscriber, v.Collection, v.DocID, v.Kind, v.Attempts,
			v.NextAttemptAt.Format(time.RFC3339), v.LastError)
	}
	tw.Flush()
	return b.String()
}

// RetryOptions holds flags for the deliveries retry command.
type RetryOptions struct {
	*RootOptions
	All bool
}

func newRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RetryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry [<seq> <subscriber>]",
		Short: "Requeue dead deliveries",
		Long: `Move dead deliveries back to pending with a fresh attempt budget.

Reactions are idempotent, so retrying a delivery whose effect already
landed is harmless. A running server picks requeued deliveries up on its
next round.

Examples:
  shelfshare deliveries retry 42 request-notify
  shelfshare deliveries retry --all`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.All {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "requeue every dead delivery")

	return cmd
}

func runRetry(opts *RetryOptions, args []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := newFormatter(cmd, opts.RootOptions)

	var seq int64
	if !opts.All {
		var err error
		seq, err = strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid change sequence %q", args[0]), err)
		}
	}

	st, _, err := openStore(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if opts.All {
		n, err := st.RequeueDead(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to requeue deliveries", err)
		}
		return out.Success(fmt.Sprintf("Requeued %d dead deliveries\n", n), map[string]int64{"requeued": n})
	}

	subscriber := args[1]
	ok, err := st.RequeueDelivery(ctx, seq, subscriber)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to requeue delivery", err)
	}
	if !ok {
		msg := fmt.Sprintf("no dead delivery %d/%s", seq, subscriber)
		if err := out.Error("E_NOT_FOUND", msg, nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	out.VerboseLog("requeued %d/%s", seq, subscriber)
	return out.Success(fmt.Sprintf("Requeued %d/%s\n", seq, subscriber), map[string]int64{"requeued": 1})
}
