package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/authority"
	"fieldsync/internal/daemonrun"
	"fieldsync/internal/logging"
	"fieldsync/internal/store"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger a sync pass",
		Long: "Ask the running daemon for a sync pass. With --local, run one pass in this\n" +
			"process instead; this fails while a daemon holds the queue lock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				return runLocalSync(cmd, ctx)
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Sync(cmd.Context())
				if err != nil {
					return err
				}
				if resp.Triggered {
					fmt.Fprintln(cmd.OutOrStdout(), "Sync pass requested")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Sync pass already queued")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Run one pass in this process instead of asking the daemon")
	return cmd
}

func runLocalSync(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	client, closeClient, err := authority.Open(cmd.Context(), cfg)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("open authority: %w", err)
	}
	defer func() { _ = closeClient() }()

	d, err := daemonrun.Assemble(cmd.Context(), cfg, st, client, logger)
	if err != nil {
		_ = st.Close()
		return err
	}
	defer d.Close()

	session, err := d.SyncOnce(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s: processed %d, succeeded %d, held %d, retried %d, failed %d, audio %d (%s)\n",
		session.ID, session.Processed, session.Succeeded, session.Held, session.Retried, session.Failed,
		session.Audio, session.Duration().Round(time.Millisecond))
	if session.Abandoned {
		fmt.Fprintln(out, "Pass stopped early: authority went offline")
	}
	if session.Error != "" {
		return fmt.Errorf("sync pass failed: %s", session.Error)
	}
	return nil
}
