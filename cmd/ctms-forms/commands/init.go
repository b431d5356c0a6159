package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/clinprecision/ctms-forms/internal/config"
	"github.com/spf13/cobra"
)

var (
	initForce   bool
	initBaseURL string
	initBackend string
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Create config.yaml in the config directory (or at --config) with the
default settings. An existing file is left alone unless --force is given.

Examples:
  ctms-forms init --base-url https://ctms.example.org --cache-backend leveldb`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "CTMS API base URL")
	initCmd.Flags().StringVar(&initBackend, "cache-backend", "", "option cache backend (memory, leveldb, redis)")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		if err := config.EnsureConfigDir(); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		path = filepath.Join(config.GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(path); err == nil {
		if !initForce && initBaseURL == "" && initBackend == "" {
			fmt.Fprintf(stdout, "Config already exists at %s (use --force to overwrite).\n", path)
			return nil
		}
		if initForce {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove existing config: %w", err)
			}
		}
	}

	// Loads an existing file, or writes the defaults and loads those.
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}

	if initBaseURL != "" {
		cfg.API.BaseURL = initBaseURL
	}
	if initBackend != "" {
		cfg.Cache.Backend = initBackend
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	verboseLog("Wrote %s", path)
	fmt.Fprintf(stdout, "Wrote config to %s.\n", path)
	return nil
}
