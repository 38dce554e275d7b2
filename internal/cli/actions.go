package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	actionsType  string
	actionsSince string
	actionsUntil string
)

var actionsCmd = &cobra.Command{
	Use:   "actions <session-id>",
	Short: "Query the action audit trail",
	Long: `Show a session's recorded agent actions, oldest first.

Examples:
  recall actions conv-1
  recall actions conv-1 --type tool_call
  recall actions conv-1 --since 2026-08-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runActions,
}

var actionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete audit entries past the configured retention",
	Args:  cobra.NoArgs,
	RunE:  runActionsPurge,
}

func init() {
	actionsCmd.AddCommand(actionsPurgeCmd)

	actionsCmd.Flags().StringVarP(&actionsType, "type", "t", "", "filter by action type")
	actionsCmd.Flags().StringVar(&actionsSince, "since", "", "earliest timestamp (RFC3339)")
	actionsCmd.Flags().StringVar(&actionsUntil, "until", "", "latest timestamp (RFC3339, exclusive)")
}

func runActions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	var from, to time.Time
	if actionsSince != "" {
		if from, err = time.Parse(time.RFC3339, actionsSince); err != nil {
			return fmt.Errorf("invalid --since %q: %w", actionsSince, err)
		}
	}
	if actionsUntil != "" {
		if to, err = time.Parse(time.RFC3339, actionsUntil); err != nil {
			return fmt.Errorf("invalid --until %q: %w", actionsUntil, err)
		}
	}

	entries, err := f.QueryActions(ctx, args[0], actionsType, from, to)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No actions recorded.")
		return nil
	}

	for _, e := range entries {
		tool := e.ToolName
		if tool == "" {
			tool = "-"
		}
		fmt.Printf("%s  %s  %s  %s  %dms\n",
			e.CreatedAt.Format(time.RFC3339), e.ActionType, tool, e.Status, e.DurationMs)
	}
	return nil
}

func runActionsPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	n, err := f.PurgeExpiredActions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d audit entries.\n", n)
	return nil
}
