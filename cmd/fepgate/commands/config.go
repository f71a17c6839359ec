package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nexuspay/fepgate/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the gateway configuration",
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Write a default configuration file.

The file is written to the --config path, or the default location
($XDG_CONFIG_HOME/fepgate/config.yaml) when no path is given.

Examples:
  fepgate config init
  fepgate config init --config /etc/fepgate/config.yaml`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Load the configuration (file, environment overrides, defaults) and
print the effective result as YAML. Secrets are redacted.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the gateway configuration file.

Checks for syntax errors, missing required fields, and invalid values, and
prints a short summary of the loaded configuration.`,
	RunE: runConfigValidate,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your channels under the channels: section")
	fmt.Println("  2. Set the admin API secret: export FEPGATE_API_SECRET=<32+ chars>")
	fmt.Println("  3. Optionally set the PAN key: export FEPGATE_SECURITY_PAN_KEY=<hex>")
	fmt.Println("  4. Start the gateway: fepgate start")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	// Never print secrets.
	if cfg.Security.PANKey != "" {
		cfg.Security.PANKey = "<redacted>"
	}
	if cfg.API.JWT.Secret != "" {
		cfg.API.JWT.Secret = "<redacted>"
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	fmt.Printf("# source: %s\n", getConfigSource(GetConfigFile()))
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	displayPath := GetConfigFile()
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if !cfg.API.HasJWTSecret() {
		warnings = append(warnings, "JWT secret not configured - admin API authentication will fail")
	}
	if cfg.Security.PANKey == "" {
		warnings = append(warnings, "PAN key not configured - card numbers stored masked and hashed only")
	}

	active := 0
	for _, spec := range cfg.Channels {
		if spec.Active {
			active++
		}
	}
	if active == 0 {
		warnings = append(warnings, "no active channels configured")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Store type:      %s\n", cfg.Store.Type)
	fmt.Printf("  API port:        %d\n", cfg.API.Port)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)
	fmt.Printf("  Channels:        %d (%d active)\n", len(cfg.Channels), active)
	return nil
}
