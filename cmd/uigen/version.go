package main

import (
	"fmt"

	"uigen/pkg/ai"
	"uigen/pkg/version"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "uigen version %s\n", version.Summary())
		fmt.Fprintf(out, "  commit: %s\n", version.Commit)
		fmt.Fprintf(out, "  built: %s\n", version.Date)
		fmt.Fprintf(out, "  go: %s\n", version.GoVersion)
		fmt.Fprintf(out, "  platform: %s\n", version.Platform())
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported upstream providers",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		for _, info := range ai.DefaultRegistry.ListProviders() {
			fmt.Fprintf(out, "%-8s %s - %s\n", info.Type, info.Name, info.Description)
		}
	},
}
