package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	tasksStatus  string
	taskPriority string
	taskDue      string
	taskDesc     string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage tasks",
	Long:  `Commands for listing and managing a session's tasks.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List a session's tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksList,
}

var tasksCreateCmd = &cobra.Command{
	Use:   "create <session-id> <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(2),
	RunE:  runTasksCreate,
}

var tasksUpdateCmd = &cobra.Command{
	Use:   "update <task-id> <status>",
	Short: "Move a task to a new status",
	Long: `Move a task through its lifecycle.

Valid statuses: pending, in_progress, done, cancelled.`,
	Args: cobra.ExactArgs(2),
	RunE: runTasksUpdate,
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksCreateCmd)
	tasksCmd.AddCommand(tasksUpdateCmd)

	tasksListCmd.Flags().StringVarP(&tasksStatus, "status", "s", "", "filter by status")
	tasksCreateCmd.Flags().StringVarP(&taskPriority, "priority", "p", "", "priority (low, normal, high, urgent)")
	tasksCreateCmd.Flags().StringVarP(&taskDue, "due", "d", "", "due date (RFC3339)")
	tasksCreateCmd.Flags().StringVar(&taskDesc, "description", "", "task description")
}

func runTasksList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	tasks, err := f.ListTasks(ctx, args[0], tasksStatus)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	for _, t := range tasks {
		due := "no due date"
		if t.DueAt != nil {
			due = "due " + t.DueAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  [%s/%s]  %s  (%s)\n", shortID(t.ID), t.Status, t.Priority, t.Title, due)
	}
	return nil
}

func runTasksCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	var dueAt *time.Time
	if taskDue != "" {
		d, err := time.Parse(time.RFC3339, taskDue)
		if err != nil {
			return fmt.Errorf("invalid due date %q: %w", taskDue, err)
		}
		dueAt = &d
	}

	task, err := f.CreateTask(ctx, args[0], args[1], taskDesc, taskPriority, dueAt)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s created (%s, %s).\n", task.ID, task.Status, task.Priority)
	return nil
}

func runTasksUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	task, err := f.UpdateTaskStatus(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Task %s is now %s.\n", task.ID, task.Status)
	return nil
}
