package cli

import (
	"fmt"
	"path/filepath"

	"github.com/harun/novellama/internal/daemon"
	"github.com/harun/novellama/internal/logger"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the novellama translation server",
	Long: `Start the novellama translation server in the foreground.
The HTTP API (and the gateway when enabled) serve until SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if daemon.IsRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	logFile := cfg.Logging.File
	if logFile == "" && !cfg.Logging.Console {
		logFile = filepath.Join(cfg.DataDir, "novellama.log")
	}
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      logFile,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "novellama listening on %s\n", d.Addr())

	d.Wait()
	return nil
}
