package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/offerpage/offerpage/internal/config"
	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/logger"
)

func init() {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the outbound dispatch queue",
	}
	queueCmd.AddCommand(newQueueListCmd(), newQueueSendCmd(), newQueueFlushCmd())
	rootCmd.AddCommand(queueCmd)
}

// withQueue opens the persisted queue with the configured senders.
func withQueue(fn func(context.Context, *dispatch.Queue) error) error {
	return withKV(func(ctx context.Context, cfg *config.Config, store kv.Store) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()

		log := logger.Default()
		router, err := newSenderRouter(ctx, cfg, log)
		if err != nil {
			return err
		}
		q := newQueue(cfg, kv.WithPrefix(store, "dispatch:"), router, log)
		// Interrupting leaves the rest of the queue persisted.
		unhook := context.AfterFunc(ctx, q.Close)
		defer unhook()

		err = fn(ctx, q)
		q.Wait()
		return err
	})
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKV(func(ctx context.Context, cfg *config.Config, store kv.Store) error {
				q := dispatch.NewQueue(kv.WithPrefix(store, "dispatch:"), nil,
					dispatch.WithInitialOnline(false),
					dispatch.WithLogger(logger.Default()),
				)
				printPending(cmd, q.Pending(ctx))
				return nil
			})
		},
	}
}

func printPending(cmd *cobra.Command, pending []dispatch.Request) {
	out := cmd.OutOrStdout()
	if len(pending) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHANNEL\tTO\tATTEMPTS\tENQUEUED")
	for _, r := range pending {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.Payload.Channel,
			r.Payload.To,
			r.AttemptCount,
			r.EnqueuedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
}

func newQueueSendCmd() *cobra.Command {
	var p dispatch.Payload
	var channel string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Queue one message and deliver the queue",
		Long: `Queue a message and wait for the queue to drain.

Example:
  offerpage queue send --channel sms --to +15125550100 --body "Your offer is ready"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Channel = dispatch.Channel(channel)
			return withQueue(func(ctx context.Context, q *dispatch.Queue) error {
				req, err := q.Enqueue(ctx, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", req.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "sms", "sms, email or voice")
	cmd.Flags().StringVar(&p.To, "to", "", "recipient phone number or email")
	cmd.Flags().StringVar(&p.Subject, "subject", "", "email subject")
	cmd.Flags().StringVar(&p.Body, "body", "", "message body")
	cmd.Flags().StringVar(&p.LeadID, "lead", "", "lead id")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("body")

	return cmd
}

func newQueueFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Deliver every pending message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(ctx context.Context, q *dispatch.Queue) error {
				before := q.Len(ctx)
				q.Drain(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d, %d still pending\n", before, q.Len(ctx))
				return nil
			})
		},
	}
}
