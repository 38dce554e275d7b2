package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	sessionsLimit int
	sessionsTail  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
	Long:  `Commands for inspecting and managing conversation sessions.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its recent messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsExpireCmd = &cobra.Command{
	Use:   "expire <session-id>",
	Short: "Mark a session inactive",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExpire,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and all its data",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsExpireCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "number of sessions to show")
	sessionsShowCmd.Flags().IntVarP(&sessionsTail, "tail", "t", 10, "number of recent messages to show")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	sessions, err := f.ListSessions(ctx, sessionsLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	for _, s := range sessions {
		state := "active"
		if !s.Active {
			state = "expired"
		}
		fmt.Printf("%s  user=%s  %s  updated=%s\n",
			s.ID, s.UserID, state, s.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	sess, err := f.GetSession(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session: %s\n", sess.ID)
	fmt.Printf("  User:    %s\n", sess.UserID)
	fmt.Printf("  Active:  %t\n", sess.Active)
	fmt.Printf("  Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))

	msgs, err := f.TailMessages(ctx, sess.ID, sessionsTail)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("\nNo messages.")
		return nil
	}

	fmt.Println("\nRecent messages:")
	for _, m := range msgs {
		fmt.Printf("  [%d] %s: %s\n", m.Seq, m.Role, m.Content)
	}
	return nil
}

func runSessionsExpire(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	if err := f.ExpireSession(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %s expired.\n", args[0])
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	if err := f.DeleteSession(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %s deleted.\n", args[0])
	return nil
}
