package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show subsystem health and recent sessions",
	Long: `Display backend health and recently active sessions.

Examples:
  recall status
  recall status --limit 20`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "number of recent sessions to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, cfg, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	st := f.Health(ctx)
	fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	fmt.Printf("State: %s\n", st.State)
	fmt.Printf("  Store: %s\n", okLabel(st.StoreOK))
	fmt.Printf("  Index: %s\n", okLabel(st.IndexOK))
	fmt.Println()

	sessions, err := f.ListSessions(ctx, statusLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Println("Recent Sessions:")
	fmt.Println("----------------")
	for _, s := range sessions {
		state := "active"
		if !s.Active {
			state = "expired"
		}
		fmt.Printf("%s  %s  (%s)\n", shortID(s.ID), s.UserID, state)
		fmt.Printf("   Last activity: %s\n", s.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "unavailable"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
