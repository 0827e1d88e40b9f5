package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gantrymon/internal/api"
	"gantrymon/internal/ledger"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage transfer tasks",
	}
	cmd.AddCommand(newTasksListCommand(ctx))
	cmd.AddCommand(newTasksShowCommand(ctx))
	cmd.AddCommand(newTaskActionCommand(ctx, "cancel", "Cancel a task that has not finished", taskBackend.Cancel))
	cmd.AddCommand(newTaskActionCommand(ctx, "requeue", "Send a RETRY task back for another ingestion attempt", taskBackend.Requeue))
	return cmd
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFlags(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withTasks(cmd.Context(), func(tasks taskBackend) error {
				list, err := tasks.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOut {
					if list == nil {
						list = []api.Task{}
					}
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				fmt.Fprintln(out, renderTaskTable(list, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable, e.g. --status retry)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newTasksShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its datasets and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withTasks(cmd.Context(), func(tasks taskBackend) error {
				task, err := tasks.Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				events, err := tasks.Events(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, struct {
						Task   api.Task    `json:"task"`
						Events []api.Event `json:"events"`
					}{task, events})
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTaskDetail(task, events, time.Now(), shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newTaskActionCommand(ctx *commandContext, use, short string, action func(taskBackend, context.Context, string) (api.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withTasks(cmd.Context(), func(tasks taskBackend) error {
				task, err := action(tasks, cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("%s task %s: %w", use, id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s\n", task.ID, taskStatusLabel(task.Status, task.Claimed))
				return nil
			})
		},
	}
}

func parseStatusFlags(values []string) ([]ledger.Status, error) {
	statuses := make([]ledger.Status, 0, len(values))
	for _, value := range values {
		status, ok := ledger.ParseStatus(strings.TrimSpace(value))
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func renderTaskTable(tasks []api.Task, now time.Time) string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			task.ID,
			taskStatusLabel(task.Status, task.Claimed),
			strconv.FormatInt(task.FileCount, 10),
			formatBytes(task.ByteCount),
			strconv.Itoa(task.RetryCount),
			summarizeDatasets(task.Datasets, 2),
			formatStamp(task.UpdatedAt, now),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Files", "Size", "Retries", "Datasets", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func summarizeDatasets(datasets []string, limit int) string {
	switch {
	case len(datasets) == 0:
		return "-"
	case len(datasets) <= limit:
		return strings.Join(datasets, ", ")
	default:
		return fmt.Sprintf("%s (+%d more)", strings.Join(datasets[:limit], ", "), len(datasets)-limit)
	}
}

func renderTaskDetail(task api.Task, events []api.Event, now time.Time, colorize bool) string {
	var b strings.Builder
	fmt.Fprintln(&b, renderStatusLine("Task", statusInfo, task.ID, colorize))
	fmt.Fprintln(&b, renderStatusLine("Status", taskStatusKind(task.Status), taskStatusLabel(task.Status, task.Claimed), colorize))
	fmt.Fprintln(&b, renderStatusLine("Files", statusInfo,
		fmt.Sprintf("%d (%s)", task.FileCount, formatBytes(task.ByteCount)), colorize))
	if task.SubmissionID != "" {
		fmt.Fprintln(&b, renderStatusLine("Submission", statusInfo, task.SubmissionID, colorize))
	}
	if task.SubmittingUser != "" {
		fmt.Fprintln(&b, renderStatusLine("Submitted by", statusInfo, task.SubmittingUser, colorize))
	}
	fmt.Fprintln(&b, renderStatusLine("Created", statusInfo, formatStamp(task.CreatedAt, now), colorize))
	if task.CompletedAt != "" {
		fmt.Fprintln(&b, renderStatusLine("Completed", statusInfo, formatStamp(task.CompletedAt, now), colorize))
	}
	if task.CleanedAt != "" {
		fmt.Fprintln(&b, renderStatusLine("Cleaned", statusInfo, formatStamp(task.CleanedAt, now), colorize))
	}
	if task.RetryCount > 0 {
		fmt.Fprintln(&b, renderStatusLine("Retries", statusWarn, strconv.Itoa(task.RetryCount), colorize))
	}
	if task.LastError != "" {
		fmt.Fprintln(&b, renderStatusLine("Last error", statusError, task.LastError, colorize))
	}

	if len(task.Datasets) > 0 {
		fmt.Fprintln(&b)
		rows := make([][]string, 0, len(task.Datasets))
		for _, name := range task.Datasets {
			files := "-"
			if manifest, ok := task.Contents[name]; ok && manifest != nil {
				files = strconv.Itoa(len(manifest.Files))
			}
			rows = append(rows, []string{name, files})
		}
		fmt.Fprintln(&b, renderTable([]string{"Dataset", "Files"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	if len(events) > 0 {
		fmt.Fprintln(&b)
		rows := make([][]string, 0, len(events))
		for _, ev := range events {
			from := "-"
			if ev.From != "" {
				from = taskStatusLabel(ev.From, false)
			}
			rows = append(rows, []string{formatStamp(ev.CreatedAt, now), from, taskStatusLabel(ev.To, false), ev.Note})
		}
		fmt.Fprintln(&b, renderTable([]string{"When", "From", "To", "Note"}, rows, nil))
	}
	return b.String()
}
