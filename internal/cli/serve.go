package cli

import (
	"fmt"

	"github.com/harun/storechat/internal/daemon"
	"github.com/harun/storechat/internal/logger"
	"github.com/spf13/cobra"
)

var noWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateway in the foreground",
	Long: `Run the chat gateway in the foreground until SIGINT or SIGTERM.
API key lists and rate limits are reloaded when the config file changes; other settings
need a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload API keys and rate limits when the config file changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return err
	}

	if !noWatch {
		if err := d.WatchConfig(loader); err != nil {
			log.Warn().Err(err).Msg("Config hot reload disabled")
		}
	}

	d.Wait()
	return nil
}
