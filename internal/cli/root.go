// Package cli implements the gymsub command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/gymsub/gymsub/internal/daemon"
	"github.com/gymsub/gymsub/internal/domain"
	"github.com/gymsub/gymsub/internal/infra/observability"
)

// Exit codes for CLI commands.
const (
	ExitSuccess    = 0
	ExitFailure    = 1 // unexpected or storage failure
	ExitInvalid    = 2 // bad input
	ExitNotFound   = 3 // unknown trainer or substitution
	ExitStorageErr = 4 // backend unavailable after retries
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Home       string
	Verbose    bool
	Format     string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the gymsub CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gymsub",
		Short: "Track substitution days owed between gym trainers",
		Long: `gymsub records which trainer covered for which, and keeps one running
balance per pair of trainers: every substitution adds a day of debt from the
absent trainer to the one who covered, and covering back pays it down.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("%w: format %q: must be one of %v", domain.ErrInvalidInput, opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default $GYMSUB_HOME/config.toml)")
	cmd.PersistentFlags().StringVar(&opts.Home, "home", "", "data directory (default ~/.gymsub)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTrainerCommand(opts))
	cmd.AddCommand(NewSubCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// ExitCode maps an error onto the CLI exit codes.
func ExitCode(err error) int {
	switch domain.Kind(err) {
	case "":
		return ExitSuccess
	case "invalid_input":
		return ExitInvalid
	case "not_found":
		return ExitNotFound
	case "storage":
		return ExitStorageErr
	default:
		return ExitFailure
	}
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// loadConfig reads the config named by --config, or config.toml in the
// data directory chosen by --home.
func loadConfig(opts *RootOptions) (daemon.Config, error) {
	return daemon.LoadConfigFrom(opts.Home, opts.ConfigPath)
}

// openDaemon opens storage and the roster service for one-shot commands.
// Logs go to stderr on the console encoder so they never mix with output.
func openDaemon(cmd *cobra.Command, opts *RootOptions) (*daemon.Daemon, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	logger, err := observability.NewLogger(observability.LogConfig{Level: level, Format: "console"})
	if err != nil {
		return nil, err
	}
	return daemon.NewWithLogger(cmdContext(cmd), cfg, logger)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// emit writes v as JSON, or calls text to render it for humans.
func emit(cmd *cobra.Command, opts *RootOptions, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// newTable returns a borderless, left-aligned table with upper-cased headers.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(true)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// closeDaemon closes d, keeping the command's error if there is one.
func closeDaemon(d *daemon.Daemon, err *error) {
	if cerr := d.Close(); cerr != nil && *err == nil && !errors.Is(cerr, os.ErrClosed) {
		*err = cerr
	}
}
