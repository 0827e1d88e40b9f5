package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gantrymon/internal/api"
	"gantrymon/internal/ledger"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				if !daemonUnavailable(err) {
					return err
				}
				status, err = offlineStatus(cmd.Context(), ctx)
				if err != nil {
					return err
				}
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderStatus(*status, time.Now(), shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// offlineStatus builds what can be known without the daemon: ledger counts.
func offlineStatus(ctx context.Context, cmdCtx *commandContext) (*api.Status, error) {
	status := &api.Status{}
	err := cmdCtx.withLedger(func(store *ledger.Store) error {
		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		status.TaskCounts = api.TaskCounts(stats)
		status.LedgerDriver = store.Driver()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cmdCtx.config != nil {
		status.LockFilePath = cmdCtx.config.LockPath()
	}
	return status, nil
}

func renderStatus(status api.Status, now time.Time, colorize bool) string {
	var lines []string

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if status.Running {
		detail := "Running (pid " + strconv.Itoa(status.PID) + ")"
		if status.StartedAt != "" {
			detail += ", started " + formatStamp(status.StartedAt, now)
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusError, "Not running", colorize))
	}
	if status.LedgerDriver != "" {
		lines = append(lines, renderStatusLine("Ledger", statusInfo, status.LedgerDriver, colorize))
	}
	if status.LockFilePath != "" {
		lines = append(lines, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
	}

	if status.Running {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Queue", colorize)...)
		lines = append(lines, renderStatusLine("Pending files", statusInfo,
			fmt.Sprintf("%d in %d dataset(s)", status.PendingFiles, status.PendingDatasets), colorize))
		lines = append(lines, renderStatusLine("Active tasks", statusInfo, strconv.Itoa(status.ActiveTasks), colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Tasks", colorize)...)
	lines = append(lines, renderTaskCounts(status.TaskCounts))

	if len(status.Workers) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Workers", colorize)...)
		lines = append(lines, renderWorkers(status.Workers, now))
	}

	if len(status.LastLogLines) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Log positions", colorize)...)
		sources := make([]string, 0, len(status.LastLogLines))
		for source := range status.LastLogLines {
			sources = append(sources, source)
		}
		sort.Strings(sources)
		for _, source := range sources {
			lines = append(lines, renderStatusLine(source, statusInfo, status.LastLogLines[source], colorize))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

func renderTaskCounts(counts map[string]int) string {
	rows := make([][]string, 0, len(counts))
	seen := make(map[string]struct{}, len(counts))
	for _, status := range ledger.AllStatuses() {
		name := string(status)
		seen[name] = struct{}{}
		rows = append(rows, []string{taskStatusLabel(name, false), strconv.Itoa(counts[name])})
	}
	var extra []string
	for name := range counts {
		if _, ok := seen[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		rows = append(rows, []string{taskStatusLabel(name, false), strconv.Itoa(counts[name])})
	}
	return renderTable([]string{"Status", "Tasks"}, rows, []columnAlignment{alignLeft, alignRight})
}

func renderWorkers(workers []api.WorkerStatus, now time.Time) string {
	rows := make([][]string, 0, len(workers))
	for _, w := range workers {
		state := "idle"
		if w.Active {
			state = "running"
		}
		lastErr := w.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		rows = append(rows, []string{
			w.Name,
			w.Interval,
			state,
			strconv.FormatInt(w.Runs, 10),
			strconv.FormatInt(w.Failures, 10),
			formatStamp(w.LastRun, now),
			lastErr,
		})
	}
	return renderTable(
		[]string{"Worker", "Every", "State", "Runs", "Failures", "Last run", "Last error"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}
