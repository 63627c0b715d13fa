package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

func NewLoginCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store an access token and sync the cart",
		Long: `Stores the bearer token for this device profile, pushes lines added
while logged out to the account cart and prints the merged cart.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				snap, err := sf.Login(ctx, args[0])
				if err != nil && !sf.Session.Authenticated() {
					return err
				}
				out := opts.output(cmd)
				if err != nil {
					// logged in, but the account cart could not be loaded
					return out.Success(newCartView(snap), func(w io.Writer) {
						fmt.Fprintf(w, "Logged in. Cart not synced: %v\n", err)
						printCart(w, snap)
					})
				}
				return out.Success(newCartView(snap), func(w io.Writer) {
					fmt.Fprintln(w, "Logged in.")
					printCart(w, snap)
				})
			})
		},
	}
}

func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "logout",
		Short:         "Forget the access token and the local cart",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorefront(cmd, func(ctx context.Context, sf *storefront.Storefront) error {
				sf.Logout(ctx)
				return opts.output(cmd).Success(map[string]bool{"authenticated": false}, func(w io.Writer) {
					fmt.Fprintln(w, "Logged out.")
				})
			})
		},
	}
}

// cartView is the JSON shape of a cart for CLI output.
type cartView struct {
	Lines         []domain.CartLine `json:"lines"`
	Subtotal      string            `json:"subtotal"`
	ItemCount     int               `json:"item_count"`
	Authoritative bool              `json:"authoritative"`
}

func newCartView(snap domain.CartSnapshot) cartView {
	lines := snap.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return cartView{
		Lines:         lines,
		Subtotal:      snap.Subtotal().StringFixed(2),
		ItemCount:     snap.ItemCount(),
		Authoritative: snap.Authoritative,
	}
}
