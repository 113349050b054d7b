package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gymsub/gymsub/internal/daemon"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Host string
	Port int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Start the gymsub HTTP API on the configured address.

Example:
  gymsub serve
  gymsub serve --port 9000
  GYMSUB_STORAGE_DRIVER=postgres GYMSUB_POSTGRES_DSN=postgres://... gymsub serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "listen host (overrides api.host)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "listen port (overrides api.port)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) (err error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Host != "" {
		cfg.API.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.API.Port = opts.Port
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmdContext(cmd))
	defer cancel()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDaemon(d, &err)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			d.Log.Info("received signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	err = d.Serve(ctx)
	return err
}
