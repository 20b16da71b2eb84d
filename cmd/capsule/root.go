package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/caffeineduck/capsule/capability"
	"github.com/caffeineduck/capsule/executor"
	"github.com/caffeineduck/capsule/runner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "capsule",
	Short: "WebAssembly host for capability-based applications",
	Long: `capsule - Run WebAssembly modules against the capabilities declared in a
configuration file.

A module only sees the capabilities its config names. Each one is backed by a
concrete implementor (filesystem, Azure Blob, DynamoDB, etcd, Kafka, ...) and
linked into the guest as a host module.

Supported capabilities:
  ` + strings.Join(capability.Supported(), "\n  "),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logger, err := newLogger(verbose)
		if err != nil {
			return err
		}
		executor.SetLogger(logger)
		runner.SetLogger(logger)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose (development) logging")
	rootCmd.SilenceErrors = true
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "1mb":
		return executor.MemoryLimit1MB
	case "16mb":
		return executor.MemoryLimit16MB
	case "64mb":
		return executor.MemoryLimit64MB
	case "256mb":
		return executor.MemoryLimit256MB
	case "1gb":
		return executor.MemoryLimit1GB
	default:
		return 0 // use default
	}
}
