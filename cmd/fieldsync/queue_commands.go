package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the mutation queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCompletedCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				stats := status.Sync.Queue
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				for _, row := range rows {
					row[0] = colorStatus(row[0], colorize)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				if stats.Oldest != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Oldest item: %s\n", stats.Oldest)
				}
				return nil
			})
		},
	}
}

func buildQueueStatusRows(stats api.QueueStats) [][]string {
	counts := []struct {
		status string
		count  int
	}{
		{"pending", stats.Pending},
		{"processing", stats.Processing},
		{"completed", stats.Completed},
		{"failed", stats.Failed},
	}
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		if c.count == 0 {
			continue
		}
		rows = append(rows, []string{c.status, strconv.Itoa(c.count)})
	}
	return rows
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued mutations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.ListQueue(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSONList(cmd, resp.Items)
				}
				if len(resp.Items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Kind", "Status", "Retries", "Created", "Summary", "Last Error"},
					buildQueueListRows(resp.Items, shouldColorize(cmd.OutOrStdout())),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by queue status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print items as JSON")
	return cmd
}

func buildQueueListRows(items []api.QueueItem, colorize bool) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.Kind,
			colorStatus(item.Status, colorize),
			strconv.Itoa(item.RetryCount),
			item.CreatedAt,
			item.Summary,
			truncate(item.LastError, 60),
		})
	}
	return rows
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Move failed mutations back to pending (all failed when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				count, err := client.RetryQueue(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed mutation(s) to pending\n", count)
				return nil
			})
		},
	}
}

func newQueueClearCompletedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Remove completed mutations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				count, err := client.ClearCompleted(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed mutation(s)\n", count)
				return nil
			})
		},
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
