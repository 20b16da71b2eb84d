package runner

import (
	"os"
	"time"

	"github.com/caffeineduck/capsule/resource"
)

const (
	DefaultEntryPoint      = "_start"
	DefaultShutdownTimeout = 30 * time.Second
)

// Option configures a Runner.
type Option func(*runConfig)

// Observer is called on every state transition.
type Observer func(from, to State)

type runConfig struct {
	entryPoint      string
	observer        Observer
	signals         <-chan os.Signal
	shutdownTimeout time.Duration
	table           *resource.Table
}

func defaultRunConfig() runConfig {
	return runConfig{
		entryPoint:      DefaultEntryPoint,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// WithEntryPoint sets the export invoked after all environments are built.
func WithEntryPoint(name string) Option {
	return func(c *runConfig) {
		c.entryPoint = name
	}
}

// WithObserver receives every state transition.
func WithObserver(fn Observer) Option {
	return func(c *runConfig) {
		c.observer = fn
	}
}

// WithSignals replaces the SIGINT/SIGTERM subscription an http run waits on.
func WithSignals(ch <-chan os.Signal) Option {
	return func(c *runConfig) {
		c.signals = ch
	}
}

// WithShutdownTimeout bounds the graceful http shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		c.shutdownTimeout = d
	}
}

// WithTable runs against an existing resource table instead of a fresh one.
// The runner still closes it when the run ends.
func WithTable(t *resource.Table) Option {
	return func(c *runConfig) {
		c.table = t
	}
}
