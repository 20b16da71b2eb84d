package main

import (
	"fmt"

	"github.com/caffeineduck/capsule/capability"
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the capsule version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "capsule %s (config specversion %s)\n", version, capability.SupportedSpecVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
