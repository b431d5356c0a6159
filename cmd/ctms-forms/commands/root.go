package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configFile string
	profile    string
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ctms-forms",
	Short: "CTMS form validation and option loading",
	Long: `ctms-forms validates clinical trial form data and loads dropdown options
from the CTMS API, caching them per study and site.

It runs as an MCP server over stdio, as an HTTP service, or as one-shot
commands for scripting.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// stdout belongs to MCP and to command results
	rootCmd.SetOut(os.Stderr)
	rootCmd.SetErr(os.Stderr)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ~/.clinprecision/ctms-forms/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "credential profile (overrides auth.profile)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
}

// SetVersion sets the version for the CLI
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func verboseLog(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}
