package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/authority"
	"fieldsync/internal/config"
	"fieldsync/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var skipAuthority bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and system readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var lines []string
			lines = append(lines, renderSectionHeader("System", colorize)...)
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				lines = append(lines, preflightLine(result, colorize))
			}
			if !skipAuthority {
				lines = append(lines, authorityLine(cmd.Context(), cfg, colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Daemon", colorize)...)
			lines = append(lines, daemonLines(cmd.Context(), ctx, colorize)...)

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipAuthority, "skip-authority", false, "Do not probe the authority")
	return cmd
}

func preflightLine(result preflight.Result, colorize bool) string {
	kind := statusOK
	if !result.Passed {
		kind = statusError
		if result.Optional {
			kind = statusWarn
		}
	}
	return renderStatusLine(result.Name, kind, result.Detail, colorize)
}

func authorityLine(ctx context.Context, cfg *config.Config, colorize bool) string {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, closeClient, err := authority.Open(probeCtx, cfg)
	if err != nil {
		return renderStatusLine("Authority", statusWarn, err.Error(), colorize)
	}
	defer func() { _ = closeClient() }()
	checker, ok := client.(authority.HealthChecker)
	if !ok {
		return renderStatusLine("Authority", statusInfo, "driver has no health check", colorize)
	}
	return preflightLine(preflight.CheckAuthority(probeCtx, checker), colorize)
}

func daemonLines(ctx context.Context, cmdCtx *commandContext, colorize bool) []string {
	var status api.DaemonStatus
	err := cmdCtx.withClient(func(client *api.Client) error {
		var err error
		status, err = client.Status(ctx)
		return err
	})
	if err != nil {
		return []string{renderStatusLine("Daemon", statusWarn, err.Error(), colorize)}
	}

	lines := []string{
		renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d, device %s)", status.PID, status.DeviceID), colorize),
	}
	if status.Sync.Online {
		lines = append(lines, renderStatusLine("Connectivity", statusOK, "online", colorize))
	} else {
		lines = append(lines, renderStatusLine("Connectivity", statusWarn, "offline; mutations wait in the queue", colorize))
	}
	q := status.Sync.Queue
	queueKind := statusOK
	if q.Failed > 0 {
		queueKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Queue", queueKind,
		fmt.Sprintf("%d pending, %d processing, %d failed, %d completed", q.Pending, q.Processing, q.Failed, q.Completed), colorize))
	lines = append(lines, renderStatusLine("Audio", statusInfo,
		fmt.Sprintf("%d pending, %d failed, %d stored", status.Audio.Pending, status.Audio.Failed, status.Audio.Count), colorize))
	lines = append(lines, renderStatusLine("Telemetry", statusInfo, yesNo(status.Telemetry), colorize))
	lines = append(lines, renderStatusLine("Interface events", statusInfo, yesNo(status.NetlinkEvents), colorize))
	if last := status.Sync.LastSession; last != nil {
		kind := statusOK
		if last.Failed > 0 || last.Error != "" {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Last pass", kind,
			fmt.Sprintf("%s via %s: %d succeeded, %d held, %d failed", last.StartedAt, last.Trigger, last.Succeeded, last.Held, last.Failed), colorize))
	}
	if status.Sync.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, status.Sync.LastError, colorize))
	}
	return lines
}
