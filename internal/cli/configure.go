package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configureCheck bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Show and validate the effective configuration",
	Long: `Print the effective configuration after applying the config file,
AGENTGATE_* environment overrides and defaults. Secrets are masked.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVar(&configureCheck, "check", false, "only validate, do not print")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if configureCheck {
		fmt.Fprintln(out, "Configuration is valid")
		return nil
	}

	fmt.Fprintln(out, cfg.String())
	return nil
}
