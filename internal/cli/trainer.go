package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gymsub/gymsub/internal/domain"
)

// NewTrainerCommand creates the trainer command group.
func NewTrainerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trainer",
		Short: "Manage the trainer roster",
	}
	cmd.AddCommand(newTrainerAddCommand(rootOpts))
	cmd.AddCommand(newTrainerListCommand(rootOpts))
	cmd.AddCommand(newTrainerRenameCommand(rootOpts))
	cmd.AddCommand(newTrainerRemoveCommand(rootOpts))
	cmd.AddCommand(newTrainerImportCommand(rootOpts))
	return cmd
}

// ─── trainer add ────────────────────────────────────────────────────────────

func newTrainerAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME",
		Short: "Register a trainer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			d, err := openDaemon(cmd, opts)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			tr, err := d.Roster.AddTrainer(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			return emit(cmd, opts, tr, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Trainer %q added (id %s)\n", tr.Name, tr.ID)
			})
		},
	}
}

// ─── trainer list ───────────────────────────────────────────────────────────

func newTrainerListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trainers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			d, err := openDaemon(cmd, opts)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			trainers, err := d.Roster.ListTrainers(cmdContext(cmd))
			if err != nil {
				return err
			}
			if trainers == nil {
				trainers = []domain.Trainer{}
			}
			return emit(cmd, opts, trainers, func(w io.Writer) {
				if len(trainers) == 0 {
					fmt.Fprintln(w, "No trainers registered.")
					fmt.Fprintln(w, "Use 'gymsub trainer add NAME' to add one.")
					return
				}
				table := newTable(w, "ID", "Name", "Added")
				for _, tr := range trainers {
					table.Append([]string{string(tr.ID), tr.Name, tr.CreatedAt.Format(time.DateOnly)})
				}
				table.Render()
			})
		},
	}
}

// ─── trainer rename ─────────────────────────────────────────────────────────

func newTrainerRenameCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename TRAINER NEW_NAME",
		Short: "Rename a trainer (by id or current name)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			d, err := openDaemon(cmd, opts)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			ctx := cmdContext(cmd)
			cur, err := d.Roster.ResolveTrainer(ctx, args[0])
			if err != nil {
				return err
			}
			tr, err := d.Roster.RenameTrainer(ctx, cur.ID, args[1])
			if err != nil {
				return err
			}
			return emit(cmd, opts, tr, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Trainer %q renamed to %q\n", cur.Name, tr.Name)
			})
		},
	}
}

// ─── trainer remove ─────────────────────────────────────────────────────────

func newTrainerRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove TRAINER",
		Short: "Remove a trainer with all of their substitutions and balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			d, err := openDaemon(cmd, opts)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			ctx := cmdContext(cmd)
			tr, err := d.Roster.ResolveTrainer(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := d.Roster.RemoveTrainer(ctx, tr.ID)
			if err != nil {
				return err
			}
			return emit(cmd, opts, res, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Trainer %q removed (%d substitutions, %d balances)\n",
					tr.Name, res.Substitutions, res.Balances)
			})
		},
	}
}

// ─── trainer import ─────────────────────────────────────────────────────────

// rosterFile is the YAML layout accepted by trainer import:
//
//	trainers:
//	  - name: Ada
//	  - name: Bo
type rosterFile struct {
	Trainers []struct {
		Name string `yaml:"name"`
	} `yaml:"trainers"`
}

func newTrainerImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Add trainers from a YAML roster, skipping names already present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			names, err := readRoster(args[0])
			if err != nil {
				return err
			}

			d, err := openDaemon(cmd, opts)
			if err != nil {
				return err
			}
			defer closeDaemon(d, &err)

			res, err := d.Roster.ImportTrainers(cmdContext(cmd), names)
			if err != nil {
				return err
			}
			return emit(cmd, opts, res, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Imported %d trainer(s), skipped %d\n", len(res.Added), len(res.Skipped))
				for _, name := range res.Skipped {
					fmt.Fprintf(w, "  • %s (already on the roster)\n", name)
				}
			})
		},
	}
}

func readRoster(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: parse roster %s: %v", domain.ErrInvalidInput, path, err)
	}
	names := make([]string, 0, len(rf.Trainers))
	for _, t := range rf.Trainers {
		names = append(names, t.Name)
	}
	return names, nil
}
