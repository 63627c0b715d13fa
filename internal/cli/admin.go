package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

func NewAdminCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage shipping fees and orders (admin accounts only)",
	}

	shipping := &cobra.Command{Use: "shipping", Short: "Manage shipping fees per governorate"}
	shipping.AddCommand(newAdminShippingAddCommand(opts))
	shipping.AddCommand(newAdminShippingUpdateCommand(opts))
	shipping.AddCommand(newAdminShippingDeleteCommand(opts))

	order := &cobra.Command{Use: "order", Short: "Manage customer orders"}
	order.AddCommand(newAdminOrderStatusCommand(opts))
	order.AddCommand(newAdminOrderDeleteCommand(opts))

	cmd.AddCommand(shipping, order)
	return cmd
}

type shippingFeeFlags struct {
	Governorate  string
	Fee          string
	DeliveryTime string
	Status       int
}

func (f *shippingFeeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Governorate, "governorate", "", "governorate name")
	cmd.Flags().StringVar(&f.Fee, "fee", "", "shipping fee")
	cmd.Flags().StringVar(&f.DeliveryTime, "delivery", "", "delivery time, e.g. \"2-3 days\"")
	cmd.Flags().IntVar(&f.Status, "status", 1, "fee status code")
}

func (f *shippingFeeFlags) request() (backend.ShippingFeeRequest, error) {
	fee, err := decimal.NewFromString(strings.TrimSpace(f.Fee))
	if err != nil {
		return backend.ShippingFeeRequest{}, WrapExitError(ExitCommandError,
			fmt.Sprintf("fee must be a number, got %q", f.Fee), nil)
	}
	return backend.ShippingFeeRequest{
		Governorate:  f.Governorate,
		Fee:          fee,
		DeliveryTime: f.DeliveryTime,
		Status:       f.Status,
	}, nil
}

func newAdminShippingAddCommand(opts *RootOptions) *cobra.Command {
	var flags shippingFeeFlags
	cmd := &cobra.Command{
		Use:           "add",
		Short:         "Add the shipping fee of a governorate",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				fee, err := sf.CreateShippingFee(ctx, req)
				if err != nil {
					return err
				}
				return opts.output(cmd).Success(fee, func(w io.Writer) {
					fmt.Fprintf(w, "Added %s: %s (%s)\n", fee.Governorate, fee.Fee.StringFixed(2), fee.ID)
				})
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newAdminShippingUpdateCommand(opts *RootOptions) *cobra.Command {
	var flags shippingFeeFlags
	cmd := &cobra.Command{
		Use:           "update <fee-id>",
		Short:         "Replace the shipping fee of a governorate",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				if err := sf.UpdateShippingFee(ctx, args[0], req); err != nil {
					return err
				}
				return opts.output(cmd).Success(map[string]string{"id": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Updated shipping fee %s.\n", args[0])
				})
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newAdminShippingDeleteCommand(opts *RootOptions) *cobra.Command {
	return adminAction(opts, "delete <fee-id>", "Delete a shipping fee",
		func(ctx context.Context, sf *storefront.Storefront, args []string) (string, error) {
			return "Deleted shipping fee " + args[0] + ".", sf.DeleteShippingFee(ctx, args[0])
		})
}

func newAdminOrderStatusCommand(opts *RootOptions) *cobra.Command {
	cmd := adminAction(opts, "status <order-id> <status>", "Set the status of an order",
		func(ctx context.Context, sf *storefront.Storefront, args []string) (string, error) {
			code, ok := parseOrderStatus(args[1])
			if !ok {
				return "", WrapExitError(ExitCommandError, fmt.Sprintf("unknown order status %q", args[1]), nil)
			}
			return fmt.Sprintf("Order %s is now %s.", args[0], domain.OrderStatusFromCode(code)),
				sf.UpdateOrderStatus(ctx, args[0], code)
		})
	cmd.Args = cobra.ExactArgs(2)
	return cmd
}

func newAdminOrderDeleteCommand(opts *RootOptions) *cobra.Command {
	return adminAction(opts, "delete <order-id>", "Delete an order",
		func(ctx context.Context, sf *storefront.Storefront, args []string) (string, error) {
			return "Deleted order " + args[0] + ".", sf.DeleteOrder(ctx, args[0])
		})
}

// adminAction builds a command taking one id argument that prints a
// confirmation line on success.
func adminAction(opts *RootOptions, use, short string,
	run func(ctx context.Context, sf *storefront.Storefront, args []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				msg, err := run(ctx, sf, args)
				if err != nil {
					return err
				}
				return opts.output(cmd).Success(map[string]string{"id": args[0], "message": msg}, func(w io.Writer) {
					fmt.Fprintln(w, msg)
				})
			})
		},
	}
}

// parseOrderStatus accepts a status name such as "shipped" or its numeric code.
func parseOrderStatus(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if code, err := strconv.Atoi(s); err == nil {
		return code, code >= 0 && code <= 5
	}
	for code := 0; code <= 5; code++ {
		if strings.EqualFold(s, string(domain.OrderStatusFromCode(code))) {
			return code, true
		}
	}
	return 0, false
}
