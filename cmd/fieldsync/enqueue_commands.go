package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
)

type enqueueFlags struct {
	table         string
	tenant        string
	recordID      string
	baseUpdatedAt string
	data          string
	dataFile      string
	optimisticID  string
	jsonOut       bool
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a record mutation for the next sync pass",
	}
	enqueueCmd.AddCommand(newEnqueueCreateCommand(ctx))
	enqueueCmd.AddCommand(newEnqueueUpdateCommand(ctx))
	return enqueueCmd
}

func newEnqueueCreateCommand(ctx *commandContext) *cobra.Command {
	var flags enqueueFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Queue creation of a new record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, ctx, "create", flags)
		},
	}
	bindEnqueueFlags(cmd, &flags)
	return cmd
}

func newEnqueueUpdateCommand(ctx *commandContext) *cobra.Command {
	var flags enqueueFlags
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Queue an update of an existing record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, ctx, "update", flags)
		},
	}
	bindEnqueueFlags(cmd, &flags)
	cmd.Flags().StringVar(&flags.recordID, "record", "", "Record id to update")
	cmd.Flags().StringVar(&flags.baseUpdatedAt, "base-updated-at", "", "RFC3339 timestamp of the record version the edit started from")
	return cmd
}

func bindEnqueueFlags(cmd *cobra.Command, flags *enqueueFlags) {
	cmd.Flags().StringVarP(&flags.table, "table", "t", "", "Target table")
	cmd.Flags().StringVar(&flags.tenant, "tenant", "", "Tenant id (defaults to device.tenant_id)")
	cmd.Flags().StringVarP(&flags.data, "data", "d", "", "Record fields as a JSON object")
	cmd.Flags().StringVar(&flags.dataFile, "data-file", "", "Read record fields from a JSON file")
	cmd.Flags().StringVar(&flags.optimisticID, "optimistic-id", "", "Temporary id shown by the UI until the authority assigns one")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Print the queued item as JSON")
}

func runEnqueue(cmd *cobra.Command, ctx *commandContext, kind string, flags enqueueFlags) error {
	data, err := readRecordData(flags.data, flags.dataFile)
	if err != nil {
		return err
	}
	req := api.EnqueueRequest{
		Kind:          kind,
		Table:         strings.TrimSpace(flags.table),
		TenantID:      strings.TrimSpace(flags.tenant),
		RecordID:      strings.TrimSpace(flags.recordID),
		BaseUpdatedAt: strings.TrimSpace(flags.baseUpdatedAt),
		Data:          data,
		OptimisticID:  strings.TrimSpace(flags.optimisticID),
	}
	if req.TenantID == "" {
		if cfg, err := ctx.ensureConfig(); err == nil {
			req.TenantID = cfg.Device.TenantID
		}
	}
	// Validate locally so typos fail before touching the daemon.
	if _, err := req.Mutation(); err != nil {
		return err
	}
	return ctx.withClient(func(client *api.Client) error {
		item, err := client.Enqueue(cmd.Context(), req)
		if err != nil {
			return err
		}
		if flags.jsonOut {
			return writeJSON(cmd, item)
		}
		line := fmt.Sprintf("Queued %s %s", item.Kind, item.ID)
		if item.Summary != "" {
			line += " (" + item.Summary + ")"
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return nil
	})
}

func readRecordData(inline, path string) (map[string]any, error) {
	inline = strings.TrimSpace(inline)
	path = strings.TrimSpace(path)
	if inline != "" && path != "" {
		return nil, errors.New("specify only one of --data or --data-file")
	}
	raw := []byte(inline)
	if path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		raw = contents
	}
	if len(raw) == 0 {
		return nil, errors.New("record data is required (--data or --data-file)")
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("record data must be a JSON object: %w", err)
	}
	return data, nil
}
