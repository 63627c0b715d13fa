package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

func NewOrdersCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Browse your orders",
	}
	cmd.AddCommand(newOrdersListCommand(opts))
	cmd.AddCommand(newOrdersShowCommand(opts))
	return cmd
}

func newOrdersListCommand(opts *RootOptions) *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List orders of the logged-in account",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				orders, err := sf.MyOrders(ctx, page, size)
				if err != nil {
					return err
				}
				return opts.output(cmd).Success(orders, func(w io.Writer) {
					if len(orders.Items) == 0 {
						fmt.Fprintln(w, "No orders.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "ORDER\tDATE\tSTATUS\tTOTAL")
					for _, o := range orders.Items {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", orderRef(o), o.Date.Format("2006-01-02"), o.Status(), o.Total.StringFixed(2))
					}
					_ = tw.Flush()
					fmt.Fprintf(w, "Page %d of %d\n", orders.PageNumber, orders.TotalPages)
				})
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "size", 10, "orders per page")
	return cmd
}

func newOrdersShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <order-id>",
		Short:         "Show one order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				order, err := sf.Order(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.output(cmd).Success(order, func(w io.Writer) {
					fmt.Fprintf(w, "Order %s (%s), paid by %s\n", orderRef(order), order.Status(), order.PaymentMethod())
					for _, it := range order.Items {
						fmt.Fprintf(w, "  %d x %s  %s\n", it.Quantity, it.ProductName, it.PriceAtPurchase.StringFixed(2))
					}
					fmt.Fprintf(w, "Shipping to %s: %s\n", order.Governorate, order.ShippingFee.StringFixed(2))
					fmt.Fprintf(w, "Total: %s\n", order.Total.StringFixed(2))
				})
			})
		},
	}
}

func orderRef(o domain.Order) string {
	if o.OrderNumber != "" {
		return o.OrderNumber
	}
	return o.ID
}
