// Package commands implements the CLI commands for zippynfs server
// management and debugging.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "zippynfs",
	Short: "ZippyNFS - crash-safe userspace network file server",
	Long: `ZippyNFS is a network file server exposing an NFS-like RPC surface
backed by a host filesystem. It stores every object as a numbered/named
file pair whose creation and deletion are ordered so the filesystem stays
consistent across process crashes, and implements the stable/unstable
write protocol with a commit barrier and server-epoch verifier.

Use "zippynfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(rpcCmd)
	rootCmd.AddCommand(benchCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
