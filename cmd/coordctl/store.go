package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-coord/pkg/config"
	"github.com/dd0wney/cluso-coord/pkg/store"
)

var errNodesRunning = errors.New("roster is not empty; stop all nodes or pass --force")

// openStore opens the shared store named by the config file. The memory
// driver lives inside one coordd process and cannot be reached from here.
func (o *options) openStore(ctx context.Context) (store.Store, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Store != config.StorePostgres {
		return nil, fmt.Errorf("direct store access needs the %s driver, config uses %q", config.StorePostgres, cfg.Store)
	}
	return cfg.OpenStore(ctx)
}

// withStore runs fn against the configured store and closes it afterwards
func (o *options) withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	st, err := o.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func newLogCmd(opts *options) *cobra.Command {
	var after int64

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the property log from the shared store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, st store.Store) error {
				records, err := readLog(ctx, st, after)
				if err != nil {
					return err
				}
				return printLog(cmd, opts, records)
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", -1, "Only print changes with a sequence number above this")
	return cmd
}

func readLog(ctx context.Context, st store.Store, after int64) ([]store.PropertyRecord, error) {
	var records []store.PropertyRecord
	err := st.InTx(ctx, func(tx store.Tx) error {
		var err error
		records, err = tx.ReadChanges(ctx, after)
		return err
	})
	return records, err
}

func printLog(cmd *cobra.Command, opts *options, records []store.PropertyRecord) error {
	w := cmd.OutOrStdout()
	if opts.output == "json" {
		return printJSON(w, records)
	}
	rows := [][]any{{"SEQ", "NAME", "VALUE", "OLD VALUE"}}
	for _, r := range records {
		old := "-"
		if r.OldValue != nil {
			old = *r.OldValue
		}
		rows = append(rows, []any{r.Seq, r.Name, r.Value, old})
	}
	return table(w, rows)
}

func newResetCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Truncate the property log",
		Long: `Truncate the property log so the next node starts from an empty cluster.

The log is only truncated while the roster is empty, which is what the last
leaving node does on its own. --force truncates with nodes present; their
caches keep the old values until they restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, st store.Store) error {
				n, err := resetLog(ctx, st, force)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d properties\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Truncate even if nodes are in the roster")
	return cmd
}

// resetLog truncates the property log under the request sequence lock, the
// same lock every node transaction takes first
func resetLog(ctx context.Context, st store.Store, force bool) (int64, error) {
	var n int64
	err := st.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.NextSequence(ctx, store.SeqRequest); err != nil {
			return err
		}
		if !force {
			present, err := tx.AnyNode(ctx)
			if err != nil {
				return err
			}
			if present {
				return errNodesRunning
			}
		}
		var err error
		n, err = tx.TruncateProperties(ctx)
		return err
	})
	return n, err
}
