package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/scheduler"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scheduled tasks",
}

var taskScheduleCmd = &cobra.Command{
	Use:   "schedule [handler]",
	Short: "Schedule a task for a handler",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskSchedule,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one scheduler poll on the daemon",
	RunE:  runTaskPoll,
}

var (
	taskData     string
	taskInterval time.Duration
	taskOwner    string
	taskStatus   string
)

func init() {
	taskCmd.AddCommand(taskScheduleCmd, taskListCmd, taskShowCmd, taskPollCmd)

	hostname, _ := os.Hostname()
	taskScheduleCmd.Flags().StringVar(&taskData, "data", "", "Task data as JSON")
	taskScheduleCmd.Flags().DurationVar(&taskInterval, "every", 0, "Repeat interval, zero for a one-shot task")
	taskScheduleCmd.Flags().StringVar(&taskOwner, "owner", fmt.Sprintf("cli@%s", hostname), "Task owner")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (pending, running, completed)")
}

func runTaskSchedule(cmd *cobra.Command, args []string) error {
	var data any
	if taskData != "" {
		if err := json.Unmarshal([]byte(taskData), &data); err != nil {
			return fmt.Errorf("--data is not valid JSON: %w", err)
		}
	}
	body := map[string]any{
		"owner_id": taskOwner,
		"handler":  args[0],
		"data":     data,
	}
	if taskInterval > 0 {
		body["interval"] = taskInterval.String()
	}

	var task models.ScheduledTask
	if err := apiPost("/tasks", body, &task); err != nil {
		return err
	}
	fmt.Printf("Scheduled task: %s (next run %s)\n", task.ID, task.NextRunAt.Local().Format(time.RFC3339))
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	path := "/tasks"
	if taskStatus != "" {
		path += "?status=" + taskStatus
	}
	var tasks []models.ScheduledTask
	if err := apiGet(path, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHANDLER\tSTATUS\tRUNS\tNEXT RUN\tEVERY")
	for _, t := range tasks {
		every := "-"
		if t.Recurring() {
			every = t.Interval.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", truncateID(t.ID), t.HandlerName,
			statusStyle(string(t.Status)).Render(string(t.Status)), t.RunCount,
			t.NextRunAt.Local().Format(time.DateTime), every)
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	var t models.ScheduledTask
	if err := apiGet("/tasks/"+args[0], &t); err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Task " + t.ID))
	fmt.Printf("Handler:  %s\n", t.HandlerName)
	fmt.Printf("Owner:    %s\n", t.OwnerID)
	fmt.Printf("Status:   %s\n", statusStyle(string(t.Status)).Render(string(t.Status)))
	fmt.Printf("Runs:     %d\n", t.RunCount)
	fmt.Printf("Next run: %s\n", t.NextRunAt.Local().Format(time.RFC3339))
	if t.Recurring() {
		fmt.Printf("Every:    %s\n", t.Interval)
	}
	if t.TaskData != "" {
		fmt.Printf("Data:     %s\n", t.TaskData)
	}
	if t.LastError != "" {
		fmt.Printf("Error:    %s\n", errorStyle.Render(t.LastError))
	}
	return nil
}

func runTaskPoll(cmd *cobra.Command, args []string) error {
	var stats scheduler.Stats
	if err := apiPost("/scheduler/poll", nil, &stats); err != nil {
		return err
	}
	fmt.Printf("Polls: %d  Executed: %d  Failed: %d  Active: %d/%d\n",
		stats.Polls, stats.Executed, stats.Failed, stats.Active, stats.MaxConcurrent)
	return nil
}
