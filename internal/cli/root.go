// Package cli implements basketctl, a terminal client driving the cart and
// wishlist engines against the collection service.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vyrodovalexey/basket-sync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	APIURL       string
	SnapshotPath string
	CatalogPath  string
	Verbose      bool

	// LoadConfig reads the base configuration; flags override it.
	LoadConfig func() (*config.ClientConfig, error)
}

// NewRootCommand creates the basketctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{LoadConfig: config.LoadClient})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "basketctl",
		Short: "Cart and wishlist client",
		Long: `basketctl keeps a cart and a wishlist on this machine while you are
anonymous and merges them into your account when you log in.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.APIURL, "api-url", "", "collection service base URL (overrides "+config.EnvAPIURL+")")
	cmd.PersistentFlags().StringVar(&opts.SnapshotPath, "snapshot", "", "SQLite snapshot file, empty for memory (overrides "+config.EnvSnapshotPath+")")
	cmd.PersistentFlags().StringVar(&opts.CatalogPath, "catalog", "", "product catalog YAML file (overrides "+config.EnvCatalogPath+")")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging to stderr")

	cmd.AddCommand(NewShellCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))

	return cmd
}

// config loads the client configuration and applies the flags that were set.
func (o *RootOptions) config(cmd *cobra.Command) (*config.ClientConfig, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("api-url") {
		cfg.APIURL = o.APIURL
	}
	if flags.Changed("snapshot") {
		cfg.SnapshotPath = o.SnapshotPath
	}
	if flags.Changed("catalog") {
		cfg.CatalogPath = o.CatalogPath
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openApp builds an App whose notifications and logs go to the command's
// output and error streams.
func (o *RootOptions) openApp(ctx context.Context, cmd *cobra.Command, out io.Writer) (*App, *zap.Logger, error) {
	cfg, err := o.config(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}

	app, err := NewApp(ctx, cfg, logger, printNotifier(out))
	if err != nil {
		return nil, nil, err
	}
	return app, logger, nil
}

// newLogger builds a console logger at level writing to w.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = ""
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		lvl,
	)
	return zap.New(core), nil
}
