package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/caffeineduck/capsule/config"
	"github.com/caffeineduck/capsule/executor"
	"github.com/caffeineduck/capsule/metrics"
	"github.com/caffeineduck/capsule/runner"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a WebAssembly module",
	Long: `Run a WebAssembly module with the capabilities named in its config.

The module's entry point runs once. If the config declares the http
capability and the module starts a server, capsule keeps serving until
interrupted.

Examples:
  capsule run -m app.wasm
  capsule run -m app.wasm -c capsule.toml --memory 64mb
  capsule run -m app.wasm --metrics-addr 127.0.0.1:9090`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("module", "m", "", "WebAssembly module to run")
	runCmd.Flags().StringP("config", "c", "capsule.toml", "Config file (TOML or YAML)")
	runCmd.Flags().String("entry", runner.DefaultEntryPoint, "Exported function to run")
	runCmd.Flags().Bool("no-cache", false, "Disable compilation cache")
	runCmd.Flags().String("memory", "", "Memory limit: 1mb, 16mb, 64mb, 256mb, 1gb")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().Bool("stdio-protocol", false, "Answer host calls the guest writes to stderr (for guests without alloc)")
	_ = runCmd.MarkFlagRequired("module")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	modulePath, _ := cmd.Flags().GetString("module")
	configPath, _ := cmd.Flags().GetString("config")
	entry, _ := cmd.Flags().GetString("entry")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	memoryLimit, _ := cmd.Flags().GetString("memory")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	stdioProtocol, _ := cmd.Flags().GetBool("stdio-protocol")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	module, err := os.ReadFile(modulePath)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}

	execOpts := []executor.ExecutorOption{
		executor.WithStdout(cmd.OutOrStdout()),
		executor.WithStderr(cmd.ErrOrStderr()),
		executor.WithArgs(modulePath),
	}
	if !noCache {
		execOpts = append(execOpts, executor.WithDiskCache())
	}
	if stdioProtocol {
		execOpts = append(execOpts, executor.WithStdioProtocol())
	}
	if pages := parseMemoryLimit(memoryLimit); pages > 0 {
		execOpts = append(execOpts, executor.WithMemoryLimit(pages))
	}

	if metricsAddr != "" {
		collector := metrics.NewCollector("capsule")
		stop, err := serveMetrics(metricsAddr, collector)
		if err != nil {
			return err
		}
		defer stop()
		execOpts = append(execOpts, executor.WithMetrics(collector))
	}

	exec, err := executor.New(execOpts...)
	if err != nil {
		return err
	}
	defer exec.Close()

	return runner.New(exec, module, cfg, runner.WithEntryPoint(entry)).Run(cmd.Context())
}

func serveMetrics(addr string, collector *metrics.Collector) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	r := mux.NewRouter()
	r.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			runner.Logger().Error("metrics server", zap.Error(err))
		}
	}()
	runner.Logger().Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
