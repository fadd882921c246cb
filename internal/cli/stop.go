package cli

import (
	"fmt"
	"syscall"
	"time"

	"github.com/harun/storechat/internal/daemon"
	"github.com/spf13/cobra"
)

var stopTimeout int

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running gateway",
	Long: `Stop a running gateway gracefully.
Sends SIGTERM so in-flight chats finish and the quota ledger is flushed,
then waits for the process to exit.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for the gateway to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	pidFile := daemon.NewPIDFile(cfg.DataDir)
	if !pidFile.IsRunning() {
		return fmt.Errorf("storechat is not running")
	}
	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !pidFile.IsRunning() {
			fmt.Fprintln(out, "Gateway stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}
	// A killed process leaves its PID file behind.
	_ = pidFile.Stop()
	fmt.Fprintln(out, "Gateway killed")
	return nil
}
