package main

import (
	"fmt"
	"os"

	_ "uigen/pkg/ai/providers"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "uigen",
	Short: "Generate UI source code from a conversation",
	Long: `uigen serves HTTP endpoints that turn a chat conversation into
single-file UI source code using a hosted chat-completion model.

Configuration is read from ~/.uigen/config.json (created on first run)
and overridden by UIGEN_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.uigen/config.json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
