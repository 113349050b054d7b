package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show trainer, substitution and open balance counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			d, err := openDaemon(cmd, opts)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			sum, err := d.Roster.Summary(cmdContext(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, opts, sum, func(w io.Writer) {
				fmt.Fprintf(w, "Trainers:          %d\n", sum.Trainers)
				fmt.Fprintf(w, "Substitutions:     %d\n", sum.Substitutions)
				fmt.Fprintf(w, "Open balances:     %d\n", sum.ActiveBalances)
				fmt.Fprintf(w, "Days outstanding:  %d\n", sum.DaysOutstanding)
			})
		},
	}
}
