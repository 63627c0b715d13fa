package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

func NewCheckoutCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Shipping, discounts, totals and order submission",
		Long: `Discount and shipping choices live for one command, so total and submit
take them as flags.`,
	}

	cmd.AddCommand(newShippingCommand(opts))
	cmd.AddCommand(newDiscountCommand(opts))
	cmd.AddCommand(newTotalCommand(opts))
	cmd.AddCommand(newSubmitCommand(opts))

	return cmd
}

// pricing holds the checkout choices shared by total and submit.
type pricing struct {
	Governorate string
	Discount    string
}

func (p *pricing) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.Governorate, "governorate", "", "governorate to ship to")
	cmd.Flags().StringVar(&p.Discount, "discount", "", "discount code to apply")
}

// apply syncs the cart when logged in and applies the shipping and
// discount choices to the aggregator.
func (p *pricing) apply(ctx context.Context, sf *storefront.Storefront) error {
	if sf.Session.Authenticated() {
		if _, err := sf.Cart.FetchAuthoritative(ctx); err != nil {
			return err
		}
	}
	if p.Governorate != "" {
		if _, err := sf.Checkout.LoadShipping(ctx, false); err != nil {
			return err
		}
		if _, err := sf.Checkout.SelectShipping(p.Governorate); err != nil {
			return err
		}
	}
	if p.Discount != "" {
		if _, err := sf.Checkout.ValidateDiscountCode(ctx, p.Discount); err != nil {
			return err
		}
	}
	return nil
}

func newShippingCommand(opts *RootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:           "shipping",
		Short:         "List shipping fees per governorate",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				fees, err := sf.Checkout.LoadShipping(ctx, refresh)
				if err != nil {
					return err
				}
				return opts.output(cmd).Success(fees, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "GOVERNORATE\tFEE\tDELIVERY")
					for _, f := range fees {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Governorate, f.Fee.StringFixed(2), f.DeliveryTime)
					}
					_ = tw.Flush()
				})
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached list")
	return cmd
}

func newDiscountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "discount <code>",
		Short:         "Check a discount code against the current cart",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				p := pricing{Discount: args[0]}
				if err := p.apply(ctx, sf); err != nil {
					return err
				}
				applied, _ := sf.Checkout.Discount()
				return opts.output(cmd).Success(applied, func(w io.Writer) {
					fmt.Fprintf(w, "Code %s takes %s off (minimum order %s).\n",
						applied.Code, applied.Amount.StringFixed(2), applied.MinOrderAmount.StringFixed(2))
				})
			})
		},
	}
}

func newTotalCommand(opts *RootOptions) *cobra.Command {
	var p pricing
	cmd := &cobra.Command{
		Use:           "total",
		Short:         "Compute the order total",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				if err := p.apply(ctx, sf); err != nil {
					return err
				}
				totals := sf.Checkout.ComputeTotal()
				return opts.output(cmd).Success(totals, func(w io.Writer) {
					printTotals(w, totals)
				})
			})
		},
	}
	p.bind(cmd)
	return cmd
}

type submitOptions struct {
	pricing
	FullName      string
	Phone         string
	Address       string
	Payment       string
	SenderDetails string
	Notes         string
	ProofPath     string
}

func newSubmitCommand(opts *RootOptions) *cobra.Command {
	var so submitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Place the order",
		Long: `Places an order for the current cart. The cart is emptied only once the
backend accepts the order.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := domain.ParsePaymentMethod(so.Payment)
			if err != nil {
				return apperr.Validation("checkout.submit_order", map[string]string{"payment_method": err.Error()})
			}
			form := domain.OrderForm{
				FullName:      so.FullName,
				Phone:         so.Phone,
				Address:       so.Address,
				Governorate:   so.Governorate,
				PaymentMethod: method,
				SenderDetails: so.SenderDetails,
				Notes:         so.Notes,
			}
			if so.ProofPath != "" {
				f, err := os.Open(so.ProofPath)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to open payment proof", err)
				}
				defer f.Close()
				form.ProofImage = f
				form.ProofFilename = filepath.Base(so.ProofPath)
			}

			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				// shipping is resolved by SubmitOrder itself
				if err := (&pricing{Discount: so.Discount}).apply(ctx, sf); err != nil {
					return err
				}
				if so.Governorate != "" {
					if _, err := sf.Checkout.LoadShipping(ctx, false); err != nil {
						return err
					}
				}
				receipt, err := sf.Checkout.SubmitOrder(ctx, form)
				if err != nil {
					return err
				}
				view := newReceiptView(receipt)
				return opts.output(cmd).Success(view, func(w io.Writer) {
					fmt.Fprintf(w, "Order %s placed.\n", view.OrderNumber)
					printTotals(w, receipt.Totals)
					if view.ProofError != "" {
						fmt.Fprintf(w, "Payment proof was not uploaded: %s\n", view.ProofError)
					}
					if view.NotificationError != "" {
						fmt.Fprintf(w, "Store was not notified: %s\n", view.NotificationError)
					}
				})
			})
		},
	}

	so.bind(cmd)
	cmd.Flags().StringVar(&so.FullName, "name", "", "recipient full name")
	cmd.Flags().StringVar(&so.Phone, "phone", "", "recipient mobile number (01xxxxxxxxx)")
	cmd.Flags().StringVar(&so.Address, "address", "", "delivery address")
	cmd.Flags().StringVar(&so.Payment, "payment", "instapay", "payment method (instapay|vodafonecash)")
	cmd.Flags().StringVar(&so.SenderDetails, "sender", "", "payer mobile number or InstaPay account")
	cmd.Flags().StringVar(&so.Notes, "notes", "", "delivery notes")
	cmd.Flags().StringVar(&so.ProofPath, "proof", "", "payment screenshot to upload")
	return cmd
}

type receiptView struct {
	OrderID           string        `json:"order_id"`
	OrderNumber       string        `json:"order_number"`
	IdempotencyKey    string        `json:"idempotency_key"`
	Totals            domain.Totals `json:"totals"`
	ProofURL          string        `json:"proof_url,omitempty"`
	ProofError        string        `json:"proof_error,omitempty"`
	NotificationError string        `json:"notification_error,omitempty"`
}

func newReceiptView(r *checkout.Receipt) receiptView {
	v := receiptView{
		OrderID:        r.Order.ID,
		OrderNumber:    r.Order.OrderNumber,
		IdempotencyKey: r.IdempotencyKey,
		Totals:         r.Totals,
		ProofURL:       r.ProofURL,
	}
	if v.OrderNumber == "" {
		v.OrderNumber = v.OrderID
	}
	if r.ProofError != nil {
		v.ProofError = r.ProofError.Error()
	}
	if r.NotificationError != nil {
		v.NotificationError = r.NotificationError.Error()
	}
	return v
}

func printTotals(w io.Writer, t domain.Totals) {
	fmt.Fprintf(w, "Subtotal: %s\n", t.Subtotal.StringFixed(2))
	if t.DiscountCode != "" {
		fmt.Fprintf(w, "Discount (%s): -%s\n", t.DiscountCode, t.Discount.StringFixed(2))
		if t.DiscountStale {
			fmt.Fprintln(w, "  the cart is now below this code's minimum order")
		}
	}
	fmt.Fprintf(w, "Shipping: %s\n", t.ShippingFee.StringFixed(2))
	fmt.Fprintf(w, "Total: %s\n", t.Total.StringFixed(2))
}
