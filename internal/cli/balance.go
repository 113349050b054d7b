package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gymsub/gymsub/internal/domain"
)

// NewBalanceCommand creates the balance command group.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show who owes whom",
	}
	cmd.AddCommand(newBalanceListCommand(rootOpts))
	cmd.AddCommand(newBalanceBetweenCommand(rootOpts))
	return cmd
}

// ─── balance list ───────────────────────────────────────────────────────────

func newBalanceListCommand(opts *RootOptions) *cobra.Command {
	var trainer string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open balances, largest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			d, err := openDaemon(cmd, opts)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			ctx := cmdContext(cmd)
			var id domain.TrainerID
			if trainer != "" {
				tr, err := d.Roster.ResolveTrainer(ctx, trainer)
				if err != nil {
					return err
				}
				id = tr.ID
			}
			bals, err := d.Roster.ListBalances(ctx, id)
			if err != nil {
				return err
			}
			if bals == nil {
				bals = []domain.Balance{}
			}
			names, err := trainerNames(cmd, d.Roster)
			if err != nil {
				return err
			}
			return emit(cmd, opts, bals, func(w io.Writer) {
				if len(bals) == 0 {
					fmt.Fprintln(w, "Everyone is even.")
					return
				}
				table := newTable(w, "Debtor", "Creditor", "Days")
				for _, b := range bals {
					table.Append([]string{nameOf(names, b.Debtor), nameOf(names, b.Creditor), strconv.Itoa(b.DaysOwed)})
				}
				table.Render()
			})
		},
	}

	cmd.Flags().StringVar(&trainer, "trainer", "", "only balances involving this trainer (id or name)")

	return cmd
}

// ─── balance between ────────────────────────────────────────────────────────

func newBalanceBetweenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "between A B",
		Short: "Show the signed balance between two trainers (positive: A owes B)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			d, err := openDaemon(cmd, opts)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			ctx := cmdContext(cmd)
			a, err := d.Roster.ResolveTrainer(ctx, args[0])
			if err != nil {
				return err
			}
			b, err := d.Roster.ResolveTrainer(ctx, args[1])
			if err != nil {
				return err
			}
			pb, err := d.Roster.BalanceBetween(ctx, a.ID, b.ID)
			if err != nil {
				return err
			}
			names := map[domain.TrainerID]string{a.ID: a.Name, b.ID: b.Name}
			return emit(cmd, opts, pb, func(w io.Writer) {
				fmt.Fprintf(w, "%d\t%s\n", pb.Net, describe(pb.Balance, names))
			})
		},
	}
}
