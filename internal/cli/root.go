package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"bookledger/internal/access"
	"bookledger/internal/clients"
	"bookledger/internal/ledger"
)

type rootOptions struct {
	url       string
	principal string
	token     string
}

func (o *rootOptions) service() ledger.Service {
	var opts []clients.ClientOption
	if o.token != "" {
		opts = append(opts, clients.WithToken(o.token))
	}
	return clients.NewLedgerClient(o.url, opts...)
}

func (o *rootOptions) caller() (access.Principal, error) {
	if o.principal == "" {
		return "", fmt.Errorf("this command needs --principal (or LEDGER_PRINCIPAL)")
	}
	return access.Principal(o.principal), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "bookctl",
		Short:         "Operate a book ledger",
		Long:          "bookctl lists and restocks books as the ledger owner, settles purchases, manages favorites and tails the event log of a running ledger server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.url, "url", envOr("LEDGER_URL", "http://localhost:8080"), "Ledger server URL")
	cmd.PersistentFlags().StringVarP(&opts.principal, "principal", "p", os.Getenv("LEDGER_PRINCIPAL"), "Calling principal")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("OWNER_TOKEN"), "Bearer token for a protected principal")

	cmd.AddCommand(newBooksCmd(opts))
	cmd.AddCommand(newStockCmd(opts))
	cmd.AddCommand(newPurchaseCmd(opts))
	cmd.AddCommand(newFavoritesCmd(opts))
	cmd.AddCommand(newEventsCmd(opts))
	cmd.AddCommand(newSeedCmd(opts))
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid book id %q", arg)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
