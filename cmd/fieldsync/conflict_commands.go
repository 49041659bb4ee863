package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
)

func newConflictsCommand(ctx *commandContext) *cobra.Command {
	conflictsCmd := &cobra.Command{
		Use:     "conflicts",
		Aliases: []string{"conflict"},
		Short:   "Review and resolve sync conflicts",
	}
	conflictsCmd.AddCommand(newConflictsListCommand(ctx))
	conflictsCmd.AddCommand(newConflictsResolveCommand(ctx))
	return conflictsCmd
}

func newConflictsListCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				conflicts, err := client.ListConflicts(cmd.Context(), all)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSONList(cmd, conflicts)
				}
				if len(conflicts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No conflicts")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(conflicts))
				for _, c := range conflicts {
					rows = append(rows, []string{
						c.ID,
						c.Table,
						c.RecordID,
						colorStatus(c.Resolution, colorize),
						strings.Join(differingFields(c.ClientData, c.ServerData), ", "),
						c.CreatedAt,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Table", "Record", "Resolution", "Differs", "Detected"},
					rows,
					nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include resolved conflicts")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print conflicts as JSON")
	return cmd
}

// differingFields lists keys whose values differ between the two versions.
func differingFields(client, server map[string]any) []string {
	keys := make(map[string]struct{}, len(client)+len(server))
	for k := range client {
		keys[k] = struct{}{}
	}
	for k := range server {
		keys[k] = struct{}{}
	}
	var out []string
	for k := range keys {
		if fmt.Sprint(client[k]) != fmt.Sprint(server[k]) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func newConflictsResolveCommand(ctx *commandContext) *cobra.Command {
	var strategy string
	var data string
	var dataFile string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Queue a resolution (client_wins, server_wins, or merged)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.ResolveRequest{Strategy: strings.TrimSpace(strategy)}
			if strings.TrimSpace(data) != "" || strings.TrimSpace(dataFile) != "" {
				resolved, err := readRecordData(data, dataFile)
				if err != nil {
					return err
				}
				req.ResolvedData = resolved
			}
			if _, err := req.Mutation(args[0]); err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				item, err := client.ResolveConflict(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s resolution for conflict %s as %s\n", req.Strategy, args[0], item.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Resolution strategy: client_wins, server_wins, merged")
	cmd.Flags().StringVarP(&data, "data", "d", "", "Merged record as a JSON object (required for merged)")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "Read the merged record from a JSON file")
	return cmd
}
