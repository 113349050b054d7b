package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gymsub/gymsub/internal/daemon"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Long: `Print the configuration after defaults, the config file and environment
overrides are applied. Redirect it to $GYMSUB_HOME/config.toml to start a file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return emit(cmd, opts, cfg, func(w io.Writer) {
				fmt.Fprintf(w, "# %s\n", configSource(opts))
				if err := cfg.Write(w); err != nil {
					fmt.Fprintf(w, "# encode: %v\n", err)
				}
			})
		},
	}
}

func configSource(opts *RootOptions) string {
	if opts.ConfigPath != "" {
		return opts.ConfigPath
	}
	return daemon.ConfigPathIn(opts.Home)
}
