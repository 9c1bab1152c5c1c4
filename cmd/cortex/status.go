package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fentz26/cortex/internal/router"
	"github.com/fentz26/cortex/internal/scheduler"
	"github.com/spf13/cobra"
)

var handlersCmd = &cobra.Command{
	Use:   "handlers",
	Short: "List handlers registered on the daemon",
	RunE:  runHandlers,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and scheduler stats",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runHandlers(cmd *cobra.Command, args []string) error {
	var infos []router.Info
	if err := apiGet("/handlers", &infos); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tROLE\tPROCESSORS")
	for _, h := range infos {
		procs := "-"
		for i, p := range h.Processors {
			if i == 0 {
				procs = ""
			} else {
				procs += ", "
			}
			procs += p.ProcessorName
			if p.Next != "" {
				procs += " -> " + p.Next
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", h.Name, h.Role, procs)
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if health == nil {
		fmt.Println(errorStyle.Render("daemon unreachable") + " at " + apiAddr)
		return err
	}
	state := successStyle.Render("healthy")
	if !health.OK {
		state = errorStyle.Render("unhealthy")
	}
	fmt.Printf("%s %s (version %s)\n", titleStyle.Render("cortex"), state, health.Version)
	fmt.Printf("Database: %s\n", health.DB)
	if err != nil {
		return err
	}

	var stats scheduler.Stats
	if err := apiGet("/scheduler/stats", &stats); err != nil {
		return err
	}
	fmt.Printf("Scheduler: %d/%d active, %d polls (%d skipped), %d executed, %d failed\n",
		stats.Active, stats.MaxConcurrent, stats.Polls, stats.SkippedPolls, stats.Executed, stats.Failed)
	return nil
}
