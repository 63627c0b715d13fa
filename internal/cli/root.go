// Package cli implements the storefront command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

// RootOptions holds global flags and the shared storefront factory.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Open builds the storefront for a command. Tests replace it.
	Open func(ctx context.Context, log *zap.Logger) (*storefront.Storefront, error)
	// Config is loaded lazily by commands that need it.
	Config func() (*config.Config, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts == nil {
		opts = &RootOptions{}
	}
	if opts.Config == nil {
		opts.Config = config.Load
	}
	if opts.Open == nil {
		opts.Open = func(ctx context.Context, log *zap.Logger) (*storefront.Storefront, error) {
			cfg, err := opts.Config()
			if err != nil {
				return nil, err
			}
			return storefront.FromConfig(ctx, cfg, log)
		}
	}

	cmd := &cobra.Command{
		Use:   "storefront",
		Short: "Storefront cart client",
		Long: `Keeps a device-local cart in step with the storefront backend, works
out checkout totals and places orders.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewCartCommand(opts))
	cmd.AddCommand(NewCheckoutCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))
	cmd.AddCommand(NewAdminCommand(opts))

	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string, stdout io.Writer, opts *RootOptions) int {
	if opts == nil {
		opts = &RootOptions{}
	}
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stdout)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	format := opts.Format
	if !slices.Contains(ValidFormats, format) {
		format = "text"
	}
	out := &OutputFormatter{Format: format, Writer: stdout}
	_ = out.Fail(err)
	return GetExitCode(err)
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func (o *RootOptions) logger() *zap.Logger {
	if !o.Verbose {
		return zap.NewNop()
	}
	l, err := logger.New("debug", "development")
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// withStorefront opens the storefront, runs fn and closes it again.
func (o *RootOptions) withStorefront(cmd *cobra.Command, fn func(ctx context.Context, sf *storefront.Storefront) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sf, err := o.Open(ctx, o.logger())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storefront", err)
	}
	defer sf.Close()
	return fn(ctx, sf)
}
