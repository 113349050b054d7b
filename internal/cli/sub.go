package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gymsub/gymsub/internal/app/roster"
	"github.com/gymsub/gymsub/internal/domain"
)

// NewSubCommand creates the substitution command group.
func NewSubCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sub",
		Aliases: []string{"substitution"},
		Short:   "Record, list and remove substitutions",
	}
	cmd.AddCommand(newSubAddCommand(rootOpts))
	cmd.AddCommand(newSubListCommand(rootOpts))
	cmd.AddCommand(newSubRemoveCommand(rootOpts))
	return cmd
}

func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --%s must be YYYY-MM-DD", domain.ErrInvalidInput, name)
	}
	return d, nil
}

// describe renders a balance for humans using trainer names.
func describe(b *domain.Balance, names map[domain.TrainerID]string) string {
	if b == nil {
		return "even"
	}
	return fmt.Sprintf("%s owes %s %d day(s)", nameOf(names, b.Debtor), nameOf(names, b.Creditor), b.DaysOwed)
}

func nameOf(names map[domain.TrainerID]string, id domain.TrainerID) string {
	if n, ok := names[id]; ok {
		return n
	}
	return string(id)
}

func trainerNames(cmd *cobra.Command, svc *roster.Service) (map[domain.TrainerID]string, error) {
	trainers, err := svc.ListTrainers(cmdContext(cmd))
	if err != nil {
		return nil, err
	}
	names := make(map[domain.TrainerID]string, len(trainers))
	for _, t := range trainers {
		names[t.ID] = t.Name
	}
	return names, nil
}

// ─── sub add ────────────────────────────────────────────────────────────────

type subAddOptions struct {
	*RootOptions
	Date  string
	Notes string
}

func newSubAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &subAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add ABSENT SUBSTITUTE",
		Short: "Record that SUBSTITUTE covered for ABSENT",
		Long: `Record a substitution. ABSENT now owes SUBSTITUTE one day, or owes one
day less if SUBSTITUTE already owed ABSENT. Trainers are given by id or name.

Example:
  gymsub sub add Ada Bo
  gymsub sub add Ada Bo --date 2026-03-02 --notes "morning spin"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			date := time.Now().UTC()
			if opts.Date != "" {
				if date, err = parseDateFlag("date", opts.Date); err != nil {
					return err
				}
			}

			d, err := openDaemon(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			ctx := cmdContext(cmd)
			absent, err := d.Roster.ResolveTrainer(ctx, args[0])
			if err != nil {
				return err
			}
			substitute, err := d.Roster.ResolveTrainer(ctx, args[1])
			if err != nil {
				return err
			}
			res, err := d.Roster.AddSubstitution(ctx, absent.ID, substitute.ID, date, opts.Notes)
			if err != nil {
				return err
			}
			names := map[domain.TrainerID]string{absent.ID: absent.Name, substitute.ID: substitute.Name}
			return emit(cmd, opts.RootOptions, res, func(w io.Writer) {
				fmt.Fprintf(w, "✅ %s covered for %s on %s (id %s)\n",
					substitute.Name, absent.Name, res.Substitution.Date.Format(time.DateOnly), res.Substitution.ID)
				fmt.Fprintf(w, "   Balance: %s\n", describe(res.Balance, names))
			})
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "day of the substitution, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free-text notes")

	return cmd
}

// ─── sub list ───────────────────────────────────────────────────────────────

type subListOptions struct {
	*RootOptions
	Trainer string
	From    string
	To      string
	Query   string
}

func newSubListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &subListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List substitutions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var f domain.SubstitutionFilter
			if f.From, err = parseDateFlag("from", opts.From); err != nil {
				return err
			}
			if f.To, err = parseDateFlag("to", opts.To); err != nil {
				return err
			}
			f.Query = opts.Query

			d, err := openDaemon(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			ctx := cmdContext(cmd)
			if opts.Trainer != "" {
				tr, err := d.Roster.ResolveTrainer(ctx, opts.Trainer)
				if err != nil {
					return err
				}
				f.Trainer = tr.ID
			}
			subs, err := d.Roster.ListSubstitutions(ctx, f)
			if err != nil {
				return err
			}
			if subs == nil {
				subs = []domain.Substitution{}
			}
			names, err := trainerNames(cmd, d.Roster)
			if err != nil {
				return err
			}
			return emit(cmd, opts.RootOptions, subs, func(w io.Writer) {
				if len(subs) == 0 {
					fmt.Fprintln(w, "No substitutions found.")
					return
				}
				table := newTable(w, "Date", "Absent", "Substitute", "Notes", "ID")
				for _, s := range subs {
					table.Append([]string{s.Date.Format(time.DateOnly),
						nameOf(names, s.AbsentTrainer), nameOf(names, s.SubstituteTrainer), s.Notes, string(s.ID)})
				}
				table.Render()
			})
		},
	}

	cmd.Flags().StringVar(&opts.Trainer, "trainer", "", "only substitutions involving this trainer (id or name)")
	cmd.Flags().StringVar(&opts.From, "from", "", "earliest day, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.To, "to", "", "latest day, YYYY-MM-DD")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "search notes and trainer names")

	return cmd
}

// ─── sub remove ─────────────────────────────────────────────────────────────

func newSubRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Delete a substitution and undo its effect on the balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			d, err := openDaemon(cmd, opts)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			res, err := d.Roster.RemoveSubstitution(cmdContext(cmd), domain.SubstitutionID(args[0]))
			if err != nil {
				return err
			}
			names, err := trainerNames(cmd, d.Roster)
			if err != nil {
				return err
			}
			return emit(cmd, opts, res, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Substitution %s removed\n", res.Substitution.ID)
				fmt.Fprintf(w, "   Balance: %s\n", describe(res.Balance, names))
			})
		},
	}
}
