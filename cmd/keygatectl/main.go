// Package main is the entrypoint for keygatectl, the keygate operator CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	databaseURL string
	operator    string
	verbose     bool
	timeout     time.Duration
}

func (o *globalOptions) logger() zerolog.Logger {
	level := zerolog.WarnLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// cli carries the options and the app opener through the command tree.
type cli struct {
	opts globalOptions
	open opener
}

// withApp opens the application for the duration of fn.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.opts.timeout)
	defer cancel()

	a, err := c.open(ctx, &c.opts)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	rootCmd := &cobra.Command{
		Use:   "keygatectl",
		Short: "Operate a keygate license server",
		Long: `keygatectl manages a keygate database directly: schema migrations,
manual licenses, webhook endpoints and billing event retention.

Configuration is read from the same environment variables and KEYGATE_CONFIG
as keygate-server. --db overrides DATABASE_URL.`,
		SilenceUsage: true,
	}

	defaultOperator := os.Getenv("USER")
	if defaultOperator == "" {
		defaultOperator = "keygatectl"
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.opts.databaseURL, "db", "", "Database URL (default $DATABASE_URL)")
	flags.StringVar(&c.opts.operator, "operator", defaultOperator, "Operator name recorded in the audit log")
	flags.BoolVarP(&c.opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.DurationVar(&c.opts.timeout, "timeout", 5*time.Minute, "Overall command timeout")

	rootCmd.AddCommand(
		newVersionCmd(),
		newMigrateCmd(c),
		newLicenseCmd(c),
		newEndpointCmd(c),
		newEventsCmd(c),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "keygatectl %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
		},
	}
}
