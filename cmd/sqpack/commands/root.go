// Package commands implements the sqpack command-line tool.
package commands

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string

	// cfg is loaded before every command runs.
	cfg *Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sqpack",
	Short: "Read SqPack game archives and apply ZiPatch files",
	Long: `sqpack reads the packed asset archives under a game's sqpack/ folder
and applies ZiPatch update files to them.

Settings come from flags, SQPACK_* environment variables and an optional
YAML config file, in that order of precedence.

Use "sqpack [command] --help" for more information about a command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadRunConfig,
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML)")
	pf.String("root", ".", "game root holding the sqpack/ folder")
	pf.String("platform", "win32", "platform suffix of the segment files (win32, ps3, ps4, ps5, lys)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("cache-dir", "", "directory for the extraction cache (disabled when empty)")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	pf.Duration("lock-timeout", 10*time.Second, "how long to wait for the game root lock")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(existsCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(lsIndexCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(snapshotCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func loadRunConfig(cmd *cobra.Command, _ []string) error {
	c, err := LoadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	cfg = c
	return nil
}
