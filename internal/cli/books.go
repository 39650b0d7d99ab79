package cli

import (
	"fmt"
	"math/bits"

	"github.com/spf13/cobra"

	"bookledger/internal/ledger"
)

func newBooksCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List, inspect and add books",
	}
	cmd.AddCommand(newBooksAddCmd(opts))
	cmd.AddCommand(newBooksListCmd(opts))
	cmd.AddCommand(newBooksGetCmd(opts))
	return cmd
}

func newBooksAddCmd(opts *rootOptions) *cobra.Command {
	var (
		title  string
		author string
		price  uint64
		stock  uint64
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "List a new book (owner only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := opts.caller()
			if err != nil {
				return err
			}
			id, err := opts.service().AddBook(cmd.Context(), caller, title, author, price, stock)
			if err != nil {
				return fmt.Errorf("add book: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added book %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Book title")
	cmd.Flags().StringVar(&author, "author", "", "Book author")
	cmd.Flags().Uint64Var(&price, "price", 0, "Unit price in the smallest currency unit")
	cmd.Flags().Uint64Var(&stock, "stock", 0, "Initial stock")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("author")
	_ = cmd.MarkFlagRequired("price")

	return cmd
}

func newBooksListCmd(opts *rootOptions) *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List book ids, or full records with --details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := opts.service()
			ids, err := svc.GetAllBookIDs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list books: %w", err)
			}
			if !details {
				return printJSON(cmd, ids)
			}

			books := make([]*ledger.Book, 0, len(ids))
			for _, id := range ids {
				book, err := svc.GetBook(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("get book %d: %w", id, err)
				}
				books = append(books, book)
			}
			return printJSON(cmd, books)
		},
	}

	cmd.Flags().BoolVar(&details, "details", false, "Fetch every book record")
	return cmd
}

func newBooksGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			book, err := opts.service().GetBook(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get book: %w", err)
			}
			return printJSON(cmd, book)
		},
	}
}

func newStockCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Manage stock counts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set ID STOCK",
		Short: "Override the stock of a book (owner only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := opts.caller()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			stock, err := parseID(args[1])
			if err != nil {
				return fmt.Errorf("invalid stock %q", args[1])
			}
			if err := opts.service().UpdateStock(cmd.Context(), caller, id, stock); err != nil {
				return fmt.Errorf("update stock: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "book %d stock set to %d\n", id, stock)
			return nil
		},
	})
	return cmd
}

func newPurchaseCmd(opts *rootOptions) *cobra.Command {
	var (
		quantity uint64
		payment  uint64
	)

	cmd := &cobra.Command{
		Use:   "purchase ID",
		Short: "Buy copies of a book",
		Long:  "Buy copies of a book. Without --payment the exact price times quantity is paid.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buyer, err := opts.caller()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			svc := opts.service()
			if !cmd.Flags().Changed("payment") {
				book, err := svc.GetBook(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("get book: %w", err)
				}
				hi, lo := bits.Mul64(book.Price, quantity)
				if hi != 0 {
					return fmt.Errorf("total for %d copies overflows", quantity)
				}
				payment = lo
			}

			receipt, err := svc.PurchaseBook(cmd.Context(), buyer, id, quantity, payment)
			if err != nil {
				return fmt.Errorf("purchase: %w", err)
			}
			return printJSON(cmd, receipt)
		},
	}

	cmd.Flags().Uint64VarP(&quantity, "quantity", "q", 1, "Copies to buy")
	cmd.Flags().Uint64Var(&payment, "payment", 0, "Amount paid; must equal price times quantity")
	return cmd
}
