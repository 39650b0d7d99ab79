package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bookledger/internal/ledger"
)

const followWait = 25 * time.Second

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		after  uint64
		limit  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print ledger events as JSON lines",
		Long:  "Print ledger events past --after, one JSON object per line. With --follow, keep long-polling for new events until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := opts.service()
			enc := json.NewEncoder(cmd.OutOrStdout())
			q := ledger.EventQuery{After: after, Limit: limit}
			if follow {
				q.Wait = followWait
			}

			for {
				events, err := svc.Events(cmd.Context(), q)
				if err != nil {
					if follow && errors.Is(err, context.Canceled) {
						return nil
					}
					return fmt.Errorf("read events: %w", err)
				}
				for _, e := range events {
					if err := enc.Encode(e); err != nil {
						return err
					}
					q.After = e.Sequence
				}
				if !follow && len(events) == 0 {
					return nil
				}
				if !follow && limit > 0 {
					return nil
				}
			}
		},
	}

	cmd.Flags().Uint64Var(&after, "after", 0, "Only events with a greater sequence")
	cmd.Flags().IntVar(&limit, "limit", 0, "Print at most this many events (0 = all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Wait for new events")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Add every book of a YAML seed file (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := opts.caller()
			if err != nil {
				return err
			}
			seed, err := ledger.LoadSeed(args[0])
			if err != nil {
				return err
			}
			ids, err := ledger.ApplySeed(cmd.Context(), opts.service(), caller, seed)
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "added book %d\n", id)
			}
			return err
		},
	}
}
