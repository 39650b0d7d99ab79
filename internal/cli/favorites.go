package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookledger/internal/access"
)

func newFavoritesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "Manage the favorites of a principal",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add ID",
		Short: "Mark a book as a favorite of --principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.caller()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := opts.service().AddFavorite(cmd.Context(), p, id); err != nil {
				return fmt.Errorf("add favorite: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "book %d is a favorite of %s\n", id, p)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove ID",
		Short: "Unmark a favorite of --principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.caller()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := opts.service().RemoveFavorite(cmd.Context(), p, id); err != nil {
				return fmt.Errorf("remove favorite: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "book %d is not a favorite of %s\n", id, p)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list [PRINCIPAL]",
		Short: "List favorites of PRINCIPAL, defaulting to --principal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := target(opts, args)
			if err != nil {
				return err
			}
			ids, err := opts.service().ListFavorites(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("list favorites: %w", err)
			}
			if ids == nil {
				ids = []uint64{}
			}
			return printJSON(cmd, ids)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check ID [PRINCIPAL]",
		Short: "Report whether a book is a favorite",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := target(opts, args[1:])
			if err != nil {
				return err
			}
			favorite, err := opts.service().IsFavorite(cmd.Context(), p, id)
			if err != nil {
				return fmt.Errorf("check favorite: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), favorite)
			return nil
		},
	})

	return cmd
}

func target(opts *rootOptions, args []string) (access.Principal, error) {
	if len(args) > 0 && args[0] != "" {
		return access.Principal(args[0]), nil
	}
	return opts.caller()
}
