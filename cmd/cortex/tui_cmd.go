package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fentz26/cortex/internal/config"
	"github.com/fentz26/cortex/internal/tui"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive dashboard",
	Long:  `Launches the terminal dashboard, starting the daemon in the background if it is not running.`,
	RunE:  runTUI,
}

var tuiNoStart bool

func init() {
	tuiCmd.Flags().BoolVar(&tuiNoStart, "no-start", false, "Do not start the daemon when it is not running")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	if !isDaemonRunning() {
		if tuiNoStart {
			return fmt.Errorf("daemon not reachable at %s", apiAddr)
		}
		fmt.Println(warningStyle.Render("Cortex daemon not running.") + " Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning() bool {
	_, err := CheckHealth()
	return err == nil
}

// startDaemon runs "cortex daemon" detached from the terminal, logging to
// ~/.cortex/daemon.log, and waits for its API to answer.
func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	daemonArgs := []string{"daemon"}
	if p := v.GetString("config"); p != "" {
		daemonArgs = append(daemonArgs, "--config", p)
	}
	cmd := exec.Command(exe, daemonArgs...)
	configureDaemonProc(cmd)

	logPath := filepath.Join(config.Dir(), "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return err
	}
	_ = cmd.Process.Release()

	fmt.Print(mutedStyle.Render("   Waiting for daemon..."))
	for i := 0; i < 20; i++ {
		if isDaemonRunning() {
			fmt.Println(successStyle.Render(" Done."))
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(errorStyle.Render(" Timeout!"))
	return fmt.Errorf("daemon started but API not reachable at %s (see %s)", apiAddr, logPath)
}
