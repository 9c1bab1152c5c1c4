package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fentz26/cortex/internal/controlplane"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/think"
	"github.com/spf13/cobra"
)

var thinkCmd = &cobra.Command{
	Use:   "think [query]",
	Short: "Run a think session",
	Long: `Runs a think session for the query and prints each step as it is
recorded. The session runs in-process unless --remote is set, in which
case it runs on the daemon.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runThink,
}

var (
	thinkMaxIter int
	thinkRemote  bool
	thinkWorld   string
)

func init() {
	thinkCmd.Flags().IntVar(&thinkMaxIter, "max-iterations", 0, "Iteration limit (default from config)")
	thinkCmd.Flags().BoolVar(&thinkRemote, "remote", false, "Run the session on the daemon")
	thinkCmd.Flags().StringVar(&thinkWorld, "world", "", "World state handed to the planner")
}

func runThink(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Thinking: ")+query)

	if thinkRemote {
		return runThinkRemote(out, query)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cmd.Context(), cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	maxIter := thinkMaxIter
	if maxIter <= 0 {
		maxIter = cfg.Think.MaxIterations
	}
	opts := append(append([]think.Option(nil), rt.thinkOptions...), think.WithListener(stepPrinter(out)))
	c := think.NewContext(thinkWorld, "", strings.Join(rt.executors.Kinds(), ", "))
	session, err := rt.sessions.Run(cmd.Context(), rt.client, rt.executors, query, maxIter, c, opts...)
	printSessionSummary(out, session.Info())
	return err
}

func runThinkRemote(out io.Writer, query string) error {
	var resp struct {
		Session think.SessionInfo `json:"session"`
		Steps   []models.Step     `json:"steps"`
		Error   string            `json:"error"`
	}
	req := controlplane.ThinkRequest{Query: query, MaxIterations: thinkMaxIter, WorldState: thinkWorld}
	err := apiPostLong("/think", req, &resp)
	if resp.Session.ID == "" {
		return err
	}
	for _, s := range resp.Steps {
		printStep(out, s)
	}
	printSessionSummary(out, resp.Session)
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

// stepPrinter prints steps and action outcomes as they happen.
func stepPrinter(out io.Writer) think.Listener {
	return think.ListenerFunc(func(e think.Event) {
		switch e.Type {
		case think.EventStep:
			if e.Step != nil {
				printStep(out, *e.Step)
			}
		case think.EventActionStart:
			if e.Action != nil {
				fmt.Fprintf(out, "  %s %s\n", mutedStyle.Render("->"), e.Action.Type)
			}
		case think.EventActionComplete:
			fmt.Fprintf(out, "  %s %s\n", successStyle.Render("ok"), mutedStyle.Render(e.Duration.Round(time.Millisecond).String()))
		case think.EventActionError:
			fmt.Fprintf(out, "  %s %v\n", errorStyle.Render("error"), e.Err)
		}
	})
}

func printStep(out io.Writer, s models.Step) {
	fmt.Fprintf(out, "%s %s\n", stepStyle.Render(fmt.Sprintf("[%s]", s.Type)), truncate(s.Content, 100))
}

func printSessionSummary(out io.Writer, info think.SessionInfo) {
	lines := []string{
		fmt.Sprintf("Session: %s", info.ID),
		fmt.Sprintf("Status:  %s", statusStyle(string(info.Status)).Render(string(info.Status))),
		fmt.Sprintf("Steps:   %d", info.Steps),
	}
	if info.Reason != "" {
		lines = append(lines, fmt.Sprintf("Reason:  %s", info.Reason))
	}
	if info.Error != "" {
		lines = append(lines, fmt.Sprintf("Error:   %s", errorStyle.Render(info.Error)))
	}
	fmt.Fprintln(out, panelStyle.Render(strings.Join(lines, "\n")))
}
