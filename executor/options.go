package executor

import (
	"io"

	"github.com/caffeineduck/capsule/metrics"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // Max memory pages (each page = 64KB), 0 = default (4GB)
	metrics          *metrics.Collector
	stdout           io.Writer
	stderr           io.Writer
	stdioProtocol    bool
	args             []string
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		stdout: io.Discard,
		stderr: io.Discard,
		args:   []string{"capsule"},
	}
}

// WithDiskCache enables persistent compilation cache for faster CLI startup.
// Optionally provide a custom directory; otherwise uses ~/.cache/capsule or XDG_CACHE_HOME/capsule.
//
// Examples:
//
//	executor.New(executor.WithDiskCache())            // default dir
//	executor.New(executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit sets the maximum memory available to each instantiation.
// Each page is 64KB. Examples:
//   - WithMemoryLimit(16) = 1MB max
//   - WithMemoryLimit(256) = 16MB max
//   - WithMemoryLimit(4096) = 256MB max
//
// Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB   uint32 = 16    // 1 MB
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)

// WithMetrics records host calls, guest calls and builds in m.
func WithMetrics(m *metrics.Collector) ExecutorOption {
	return func(c *executorConfig) {
		c.metrics = m
	}
}

// WithStdout sets where guest stdout goes. Default is discarded.
func WithStdout(w io.Writer) ExecutorOption {
	return func(c *executorConfig) {
		c.stdout = w
	}
}

// WithStderr sets where guest stderr goes. Default is discarded.
func WithStderr(w io.Writer) ExecutorOption {
	return func(c *executorConfig) {
		c.stderr = w
	}
}

// WithArgs sets the guest's argv. Default is ["capsule"].
func WithArgs(args ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.args = args
	}
}

// WithStdioProtocol answers host calls written to stderr as
// \x00CAPSULE:{json}\x00 on the guest's stdin, for guests that cannot
// export an allocator.
func WithStdioProtocol() ExecutorOption {
	return func(c *executorConfig) {
		c.stdioProtocol = true
	}
}
