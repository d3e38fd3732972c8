package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/oddforge/wristlink/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "wristlink",
	Short: "Wearable/partner link protocol stack",
	Long: `Wristlink - the link between a wrist-worn main device and its
joystick/mesh partner device.

  central  runs on the main device: scans for the partner, maintains the
           connection, and consumes telemetry and mesh traffic.
  partner  runs on the partner device: advertises the partner identity,
           streams joystick telemetry, and relays mesh messages.

Configuration is read from --config, or ~/.config/wristlink/config.yaml
when the flag is not given. Missing files fall back to built-in defaults.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation: %w", err)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: config.ParseLogLevel(cfg.LogLevel),
		})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default: ~/.config/wristlink/config.yaml)")
	rootCmd.AddCommand(centralCmd)
	rootCmd.AddCommand(partnerCmd)
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

// loadConfig reads the config file at path. An empty path means the
// default location, where a missing file is not an error.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	def := config.DefaultConfigPath()
	if _, err := os.Stat(def); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(def)
}
