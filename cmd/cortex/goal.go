package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/orchestrator"
	"github.com/spf13/cobra"
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manage goals",
}

var goalAddCmd = &cobra.Command{
	Use:   "add [description]",
	Short: "Add a goal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGoalAdd,
}

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals",
	RunE:  runGoalList,
}

var goalShowCmd = &cobra.Command{
	Use:   "show [goal-id]",
	Short: "Show goal details",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalShow,
}

var goalStatusCmd = &cobra.Command{
	Use:   "status [goal-id] [status]",
	Short: "Set a goal's status (pending, active, completed, failed)",
	Args:  cobra.ExactArgs(2),
	RunE:  runGoalStatus,
}

var goalRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every ready goal as a think session",
	RunE:  runGoalRun,
}

var (
	goalHorizon  string
	goalPriority int
	goalDeps     []string
	goalParent   string
	goalCriteria []string
	goalReady    bool
)

func init() {
	goalCmd.AddCommand(goalAddCmd, goalListCmd, goalShowCmd, goalStatusCmd, goalRunCmd)

	goalAddCmd.Flags().StringVar(&goalHorizon, "horizon", string(models.HorizonShort), "Planning horizon (long, medium, short)")
	goalAddCmd.Flags().IntVar(&goalPriority, "priority", 0, "Priority, higher runs first")
	goalAddCmd.Flags().StringSliceVar(&goalDeps, "depends-on", nil, "IDs of goals this goal depends on")
	goalAddCmd.Flags().StringVar(&goalParent, "parent", "", "Parent goal ID")
	goalAddCmd.Flags().StringArrayVar(&goalCriteria, "criteria", nil, "Success criterion (repeatable)")

	goalListCmd.Flags().BoolVar(&goalReady, "ready", false, "Only list goals ready to run")
}

func runGoalAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"horizon":          goalHorizon,
		"description":      strings.Join(args, " "),
		"priority":         goalPriority,
		"dependencies":     goalDeps,
		"parent_goal":      goalParent,
		"success_criteria": goalCriteria,
	}
	var g models.Goal
	if err := apiPost("/goals", body, &g); err != nil {
		return err
	}
	fmt.Printf("Created goal: %s\n", g.ID)
	return nil
}

func runGoalList(cmd *cobra.Command, args []string) error {
	path := "/goals"
	if goalReady {
		path = "/goals/ready"
	}
	var list []models.Goal
	if err := apiGet(path, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No goals found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHORIZON\tPRIORITY\tSTATUS\tDESCRIPTION")
	for _, g := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", truncateID(g.ID), g.Horizon, g.Priority,
			statusStyle(string(g.Status)).Render(string(g.Status)), truncate(g.Description, 50))
	}
	return w.Flush()
}

func runGoalShow(cmd *cobra.Command, args []string) error {
	var g struct {
		models.Goal
		View models.GoalStatus `json:"view"`
	}
	if err := apiGet("/goals/"+args[0], &g); err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(g.Description))
	fmt.Printf("ID:       %s\n", g.ID)
	fmt.Printf("Horizon:  %s\n", g.Horizon)
	fmt.Printf("Priority: %d\n", g.Priority)
	fmt.Printf("Status:   %s (%s)\n", statusStyle(string(g.Status)).Render(string(g.Status)), g.View)
	if len(g.Dependencies) > 0 {
		fmt.Printf("Depends:  %s\n", strings.Join(g.Dependencies, ", "))
	}
	if g.ParentGoal != "" {
		fmt.Printf("Parent:   %s\n", g.ParentGoal)
	}
	if len(g.Subgoals) > 0 {
		fmt.Printf("Subgoals: %s\n", strings.Join(g.Subgoals, ", "))
	}
	for _, c := range g.SuccessCriteria {
		fmt.Printf("  - %s\n", c)
	}
	return nil
}

func runGoalStatus(cmd *cobra.Command, args []string) error {
	var g models.Goal
	if err := apiPost("/goals/"+args[0]+"/status", map[string]string{"status": args[1]}, &g); err != nil {
		return err
	}
	fmt.Printf("Goal %s is now %s\n", truncateID(g.ID), statusStyle(string(g.Status)).Render(string(g.Status)))
	return nil
}

func runGoalRun(cmd *cobra.Command, args []string) error {
	var resp struct {
		Outcomes []orchestrator.Outcome `json:"outcomes"`
	}
	err := apiPostLong("/goals/run", nil, &resp)
	if len(resp.Outcomes) == 0 && err == nil {
		fmt.Println("No goals ready to run")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GOAL\tSESSION\tSTATUS\tERROR")
	for _, o := range resp.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncateID(o.GoalID), truncateID(o.SessionID),
			statusStyle(string(o.Status)).Render(string(o.Status)), truncate(o.Error, 60))
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	return err
}
