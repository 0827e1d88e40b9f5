package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gantrymon/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the task ledger database",
	}
	cmd.AddCommand(newLedgerHealthCommand(ctx))
	cmd.AddCommand(newLedgerDatasetCommand(ctx))
	return cmd
}

func newLedgerHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check schema, integrity and reachability of the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(store *ledger.Store) error {
				health, checkErr := store.CheckHealth(cmd.Context())
				if jsonOut {
					if err := writeJSON(cmd, health); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprint(out, renderLedgerHealth(health, shouldColorize(out)))
				}
				return checkErr
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newLedgerDatasetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dataset <name>",
		Short: "Show accumulated transfer totals for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(store *ledger.Store) error {
				stats, err := store.DatasetStats(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				now := time.Now()
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderStatusLine("Dataset", statusInfo, stats.Name, colorize))
				fmt.Fprintln(out, renderStatusLine("Files", statusInfo,
					fmt.Sprintf("%d (%s)", stats.FileCount, formatBytes(stats.ByteCount)), colorize))
				fmt.Fprintln(out, renderStatusLine("Transfers", statusInfo, strconv.Itoa(stats.TransferCount), colorize))
				fmt.Fprintln(out, renderStatusLine("First created", statusInfo, formatTime(stats.FirstCreated, now), colorize))
				fmt.Fprintln(out, renderStatusLine("Last transfer", statusInfo, formatTime(stats.LastTransfer, now), colorize))
				return nil
			})
		},
	}
}

func renderLedgerHealth(health ledger.DatabaseHealth, colorize bool) string {
	check := func(ok bool) statusKind {
		if ok {
			return statusOK
		}
		return statusError
	}
	lines := []string{
		renderStatusLine("Driver", statusInfo, health.Driver, colorize),
		renderStatusLine("Location", statusInfo, health.Location, colorize),
		renderStatusLine("Schema version", statusInfo, strconv.Itoa(health.SchemaVersion), colorize),
		renderStatusLine("Database", check(health.DatabaseExists), yesNo(health.DatabaseExists, "present", "missing"), colorize),
		renderStatusLine("Reachable", check(health.Reachable), yesNo(health.Reachable, "yes", "no"), colorize),
		renderStatusLine("Tasks table", check(health.TableExists), yesNo(health.TableExists, "present", "missing"), colorize),
	}
	if len(health.MissingColumns) > 0 {
		lines = append(lines, renderStatusLine("Missing columns", statusError, strings.Join(health.MissingColumns, ", "), colorize))
	}
	if health.Reachable && health.TableExists {
		lines = append(lines,
			renderStatusLine("Integrity", check(health.IntegrityCheck), yesNo(health.IntegrityCheck, "ok", "failed"), colorize),
			renderStatusLine("Tasks", statusInfo, strconv.Itoa(health.TotalTasks), colorize),
		)
	}
	if health.Error != "" {
		lines = append(lines, renderStatusLine("Error", statusError, health.Error, colorize))
	}
	return strings.Join(lines, "\n") + "\n"
}

func yesNo(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func formatTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return formatStamp(t.UTC().Format(time.RFC3339Nano), now)
}
