package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/reconciler"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

func NewCartCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show and change the cart",
	}

	cmd.AddCommand(newCartShowCommand(opts))
	cmd.AddCommand(newCartAddCommand(opts))
	cmd.AddCommand(newCartUpdateCommand(opts))
	cmd.AddCommand(newCartRemoveCommand(opts))
	cmd.AddCommand(newCartClearCommand(opts))
	cmd.AddCommand(newCartRefreshCommand(opts))

	return cmd
}

// cartAction builds a cart subcommand that prints the resulting cart.
func cartAction(opts *RootOptions, use, short string, args cobra.PositionalArgs,
	run func(ctx context.Context, sf *storefront.Storefront, args []string) (domain.CartSnapshot, error),
) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, argv []string) error {
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				snap, err := run(ctx, sf, argv)
				if err != nil {
					return err
				}
				return opts.output(cmd).Success(newCartView(snap), func(w io.Writer) {
					printCart(w, snap)
				})
			})
		},
	}
}

func newCartShowCommand(opts *RootOptions) *cobra.Command {
	return cartAction(opts, "show", "Print the local cart", cobra.NoArgs,
		func(_ context.Context, sf *storefront.Storefront, _ []string) (domain.CartSnapshot, error) {
			return sf.Cart.Snapshot(), nil
		})
}

func newCartRefreshCommand(opts *RootOptions) *cobra.Command {
	return cartAction(opts, "refresh", "Replace the local cart with the server cart", cobra.NoArgs,
		func(ctx context.Context, sf *storefront.Storefront, _ []string) (domain.CartSnapshot, error) {
			return sf.Cart.FetchAuthoritative(ctx)
		})
}

func newCartAddCommand(opts *RootOptions) *cobra.Command {
	var (
		qty      int
		lineOpts reconciler.LineOptions
	)
	cmd := cartAction(opts, "add <product-id>", "Add a product to the cart", cobra.ExactArgs(1),
		func(ctx context.Context, sf *storefront.Storefront, args []string) (domain.CartSnapshot, error) {
			return sf.AddProduct(ctx, args[0], qty, lineOpts)
		})
	cmd.Flags().IntVarP(&qty, "qty", "q", 1, "quantity to add")
	cmd.Flags().StringVar(&lineOpts.Size, "size", "", "size variant")
	cmd.Flags().StringVar(&lineOpts.Color, "color", "", "color variant")
	cmd.Flags().StringVar(&lineOpts.Customization, "customization", "", "free-text customization")
	return cmd
}

func newCartUpdateCommand(opts *RootOptions) *cobra.Command {
	return cartAction(opts, "update <line-id> <quantity>", "Set the quantity of a line", cobra.ExactArgs(2),
		func(ctx context.Context, sf *storefront.Storefront, args []string) (domain.CartSnapshot, error) {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return domain.CartSnapshot{}, WrapExitError(ExitCommandError,
					fmt.Sprintf("quantity must be a number, got %q", args[1]), nil)
			}
			return sf.Cart.UpdateQuantity(ctx, args[0], qty)
		})
}

func newCartRemoveCommand(opts *RootOptions) *cobra.Command {
	return cartAction(opts, "remove <line-id>", "Remove a line from the cart", cobra.ExactArgs(1),
		func(ctx context.Context, sf *storefront.Storefront, args []string) (domain.CartSnapshot, error) {
			return sf.Cart.RemoveLine(ctx, args[0])
		})
}

func newCartClearCommand(opts *RootOptions) *cobra.Command {
	return cartAction(opts, "clear", "Remove every line from the cart", cobra.NoArgs,
		func(ctx context.Context, sf *storefront.Storefront, _ []string) (domain.CartSnapshot, error) {
			return sf.Cart.ClearCart(ctx)
		})
}

func printCart(w io.Writer, snap domain.CartSnapshot) {
	if snap.IsEmpty() {
		fmt.Fprintln(w, "Cart is empty.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tPRODUCT\tVARIANT\tQTY\tPRICE")
	for _, l := range snap.Lines {
		id := l.ID
		if id == "" {
			id = "(local)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", id, l.Product.Name, variant(l), l.Quantity, l.Product.Price.StringFixed(2))
	}
	_ = tw.Flush()
	state := "local"
	if snap.Authoritative {
		state = "synced"
	}
	fmt.Fprintf(w, "Items: %d  Subtotal: %s  (%s)\n", snap.ItemCount(), snap.Subtotal().StringFixed(2), state)
}

func variant(l domain.CartLine) string {
	switch {
	case l.Size != "" && l.Color != "":
		return l.Size + "/" + l.Color
	case l.Size != "":
		return l.Size
	case l.Color != "":
		return l.Color
	}
	return "-"
}
