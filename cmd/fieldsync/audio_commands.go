package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fieldsync/internal/api"
)

func newAudioCommand(ctx *commandContext) *cobra.Command {
	audioCmd := &cobra.Command{
		Use:   "audio",
		Short: "Manage queued voice captures",
	}

	audioCmd.AddCommand(newAudioAddCommand(ctx))
	audioCmd.AddCommand(newAudioListCommand(ctx))
	audioCmd.AddCommand(newAudioStatsCommand(ctx))
	audioCmd.AddCommand(newAudioCleanupCommand(ctx))
	audioCmd.AddCommand(newAudioRetryCommand(ctx))

	return audioCmd
}

func newAudioAddCommand(ctx *commandContext) *cobra.Command {
	var meta api.AudioUpload
	var contentType string

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Queue a recording for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read recording: %w", err)
			}
			if strings.TrimSpace(contentType) == "" {
				contentType = audioContentType(path)
			}
			if strings.TrimSpace(meta.Source) == "" {
				meta.Source = "cli"
			}
			return ctx.withClient(func(client *api.Client) error {
				capture, err := client.AddAudio(cmd.Context(), data, contentType, meta)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued capture %s (%s stored as %s, %s)\n",
					capture.ID,
					humanize.Bytes(uint64(capture.OriginalBytes)),
					humanize.Bytes(uint64(capture.Size)),
					capture.Encoding,
				)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&meta.Source, "source", "", "Capture source label (default cli)")
	cmd.Flags().StringVar(&meta.Form, "form", "", "Form the capture belongs to")
	cmd.Flags().StringVar(&meta.TenantID, "tenant", "", "Tenant id (defaults to device.tenant_id)")
	cmd.Flags().StringVar(&meta.CorrelationID, "correlation-id", "", "Caller correlation id")
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type of the recording (guessed from the extension)")
	return cmd
}

func audioContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}
	if value := mime.TypeByExtension(ext); value != "" {
		if mediaType, _, err := mime.ParseMediaType(value); err == nil {
			return mediaType
		}
	}
	return ""
}

func newAudioListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued captures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				items, err := client.ListAudio(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSONList(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No audio captures queued")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						item.ID,
						colorStatus(item.Status, colorize),
						item.Source,
						item.Encoding,
						humanize.Bytes(uint64(item.Size)),
						strconv.Itoa(item.Retries),
						item.CreatedAt,
						truncate(firstNonEmpty(item.LastError, item.Transcript), 50),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Source", "Encoding", "Size", "Retries", "Created", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by capture status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print captures as JSON")
	return cmd
}

func newAudioStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show capture storage usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				stats, err := client.AudioStats(cmd.Context())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Captures", strconv.Itoa(stats.Count)},
					{"Pending", strconv.Itoa(stats.Pending)},
					{"Transcribing", strconv.Itoa(stats.Transcribing)},
					{"Transcribed", strconv.Itoa(stats.Transcribed)},
					{"Failed", strconv.Itoa(stats.Failed)},
					{"Stored", humanize.Bytes(uint64(max(stats.TotalBytes, 0)))},
				}
				if stats.Oldest != "" {
					rows = append(rows, []string{"Oldest", stats.Oldest})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newAudioCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge captures past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				count, err := client.CleanupAudio(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired capture(s)\n", count)
				return nil
			})
		},
	}
}

func newAudioRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Reset a failed capture so it is transcribed again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				capture, err := client.RetryAudio(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Capture %s is %s\n", capture.ID, capture.Status)
				return nil
			})
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
