package cli

import (
	"fmt"

	"github.com/harun/storechat/internal/config"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Inspect and check the configuration",
	Long: `Inspect the effective configuration after defaults and STORECHAT_*
environment overrides, or check it for problems before starting the gateway.`,
}

var configureShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigureShow,
}

var configureCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report every configuration problem found",
	RunE:  runConfigureCheck,
}

var configureInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigureInit,
}

func init() {
	configureCmd.AddCommand(configureShowCmd, configureCheckCmd, configureInitCmd)
	rootCmd.AddCommand(configureCmd)
}

func runConfigureShow(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, cfg.String())
	return nil
}

func runConfigureCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return fmt.Errorf("invalid configuration")
	}

	warnings := config.NewValidator().ValidateConfig(cfg)
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %v\n", w)
	}
	fmt.Fprintf(out, "Configuration OK (%d providers, %d candidates)\n", len(cfg.Providers), len(cfg.Candidates))
	return nil
}

func runConfigureInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg := config.DefaultConfig()
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(cmd.OutOrStdout(), "Add providers and candidates, then start the gateway with: storechat serve")
	return nil
}
