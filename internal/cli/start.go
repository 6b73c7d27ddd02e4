package cli

import (
	"fmt"

	"github.com/harun/agentgate/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	startHost string
	startPort int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agentgate daemon service",
	Long: `Start the agentgate daemon in the foreground.
The daemon serves the streaming API until it receives SIGINT or SIGTERM,
then drains in-flight streams and exits.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startHost, "host", "", "listen host (overrides config)")
	startCmd.Flags().IntVar(&startPort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if startHost != "" {
		cfg.Server.Host = startHost
	}
	if startPort != 0 {
		cfg.Server.Port = startPort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "agentgate listening on %s\n", d.Status().Addr)

	d.Wait()
	return nil
}

// isRunning reports whether the PID file names a live process.
func isRunning(pidFile string) bool {
	pid, err := daemon.ReadPIDFile(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessAlive(pid)
}
