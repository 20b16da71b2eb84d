package runner_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/caffeineduck/capsule/capability"
	"github.com/caffeineduck/capsule/capability/events"
	capshttp "github.com/caffeineduck/capsule/capability/http"
	"github.com/caffeineduck/capsule/config"
	"github.com/caffeineduck/capsule/executor"
	"github.com/caffeineduck/capsule/internal/wasmtest"
	"github.com/caffeineduck/capsule/resource"
	"github.com/caffeineduck/capsule/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sharedExec *executor.Executor

func TestMain(m *testing.M) {
	var err error
	sharedExec, err = executor.GetTestExecutor()
	if err != nil {
		panic("failed to create shared executor: " + err.Error())
	}
	code := m.Run()
	executor.CloseTestExecutor()
	os.Exit(code)
}

func newConfig(t *testing.T, secretStore string, names ...string) *config.File {
	t.Helper()
	cfg := &config.File{
		SpecVersion: "0.1",
		SecretStore: secretStore,
		Path:        filepath.Join(t.TempDir(), "capsule.toml"),
	}
	for _, n := range names {
		cfg.Capabilities = append(cfg.Capabilities, config.Capability{Name: n})
	}
	return cfg
}

type transitions struct {
	mu     sync.Mutex
	states []runner.State
}

func (tr *transitions) observe(from, to runner.State) {
	tr.mu.Lock()
	tr.states = append(tr.states, to)
	tr.mu.Unlock()
}

func (tr *transitions) list() []runner.State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]runner.State(nil), tr.states...)
}

func TestEventsRunCompletes(t *testing.T) {
	ctx := context.Background()
	table := resource.NewTable()
	tr := &transitions{}
	var adopted bool

	observe := func(from, to runner.State) {
		tr.observe(from, to)
		if to == runner.StateEntryPointRunning {
			ev, err := resource.Get[*events.Resource](table, "events")
			if err == nil {
				adopted = ev.Adopted()
			}
		}
	}

	r := runner.New(sharedExec, wasmtest.Caller("events", "exec", `{}`), newConfig(t, "", "events"),
		runner.WithTable(table), runner.WithObserver(observe))
	require.NoError(t, r.Run(ctx))

	assert.True(t, adopted)
	assert.Equal(t, []runner.State{
		runner.StatePrimaryBuilt,
		runner.StateSecondaryBuilt,
		runner.StateEntryPointRunning,
		runner.StateClosed,
	}, tr.list())
	assert.Equal(t, runner.StateClosed, r.State())
	assert.Equal(t, 0, table.Len())
}

func TestRunWithoutAsyncCapabilities(t *testing.T) {
	tr := &transitions{}
	r := runner.New(sharedExec, wasmtest.Noop(), newConfig(t, "", "configs.envvars"), runner.WithObserver(tr.observe))
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []runner.State{
		runner.StatePrimaryBuilt,
		runner.StateEntryPointRunning,
		runner.StateClosed,
	}, tr.list())
}

func TestRunFailsWithoutSecretStore(t *testing.T) {
	tr := &transitions{}
	r := runner.New(sharedExec, wasmtest.Noop(), newConfig(t, "", "kv.filesystem"), runner.WithObserver(tr.observe))

	err := r.Run(context.Background())
	require.ErrorIs(t, err, capability.ErrMissingSecretStore)
	assert.Contains(t, err.Error(), "AZURE_STORAGE_ACCOUNT")
	assert.Equal(t, []runner.State{runner.StateFailed}, tr.list())
	assert.Equal(t, runner.StateFailed, r.State())
}

func TestRunEntryPointFailure(t *testing.T) {
	tr := &transitions{}
	r := runner.New(sharedExec, wasmtest.Trap(), newConfig(t, "", "events"), runner.WithObserver(tr.observe))

	err := r.Run(context.Background())
	var execErr *executor.ExecError
	require.True(t, errors.As(err, &execErr), "got %v", err)

	states := tr.list()
	assert.Equal(t, runner.StateEntryPointRunning, states[len(states)-2])
	assert.Equal(t, runner.StateFailed, states[len(states)-1])
}

func TestRunMissingEntryPoint(t *testing.T) {
	r := runner.New(sharedExec, wasmtest.Noop(), newConfig(t, "", "events"), runner.WithEntryPoint("main"))
	err := r.Run(context.Background())
	assert.ErrorContains(t, err, "entry point")
}

func TestRunOnlyOnce(t *testing.T) {
	r := runner.New(sharedExec, wasmtest.Noop(), newConfig(t, "", "events"))
	require.NoError(t, r.Run(context.Background()))
	assert.ErrorIs(t, r.Run(context.Background()), runner.ErrAlreadyRun)
}

const echoServer = `{"address":"127.0.0.1:0","routes":[{"method":"POST","path":"/echo","handler":"handle"}]}`

func TestHTTPRunServesUntilSignal(t *testing.T) {
	table := resource.NewTable()
	signals := make(chan os.Signal, 1)
	serving := make(chan string, 1)

	observe := func(from, to runner.State) {
		if to == runner.StateServingAsync {
			srv, err := resource.Get[*capshttp.Resource](table, "http")
			if err == nil {
				serving <- srv.Addr()
			}
		}
	}

	r := runner.New(sharedExec, wasmtest.Server("http", "serve", echoServer), newConfig(t, "", "http"),
		runner.WithTable(table), runner.WithObserver(observe), runner.WithSignals(signals))

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	var addr string
	select {
	case addr = <-serving:
	case err := <-done:
		t.Fatalf("run ended early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}
	require.NotEmpty(t, addr)

	resp, err := http.Post("http://"+addr+"/echo", "text/plain", strings.NewReader("ping"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ping", string(body))

	select {
	case err := <-done:
		t.Fatalf("run returned before signal: %v", err)
	default:
	}

	signals <- syscall.SIGTERM
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after signal")
	}
	assert.Equal(t, runner.StateClosed, r.State())

	_, err = http.Get("http://" + addr + "/echo")
	assert.Error(t, err)
}

func TestHTTPRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &transitions{}
	observe := func(from, to runner.State) {
		tr.observe(from, to)
		if to == runner.StateServingAsync {
			cancel()
		}
	}

	r := runner.New(sharedExec, wasmtest.Server("http", "serve", echoServer), newConfig(t, "", "http"),
		runner.WithObserver(observe), runner.WithSignals(make(chan os.Signal)))
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []runner.State{
		runner.StatePrimaryBuilt,
		runner.StateSecondaryBuilt,
		runner.StateEntryPointRunning,
		runner.StateServingAsync,
		runner.StateShutdownRequested,
		runner.StateClosed,
	}, tr.list())
}

func TestHTTPRunEntryPointFailureStopsServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	args := `{"address":"` + addr + `","routes":[{"method":"POST","path":"/echo","handler":"handle"}]}`

	var srv *capshttp.Resource
	table := resource.NewTable()
	observe := func(from, to runner.State) {
		if to == runner.StateEntryPointRunning {
			srv, _ = resource.Get[*capshttp.Resource](table, "http")
		}
	}

	r := runner.New(sharedExec, wasmtest.FailingServer("http", "serve", args), newConfig(t, "", "http"),
		runner.WithTable(table), runner.WithObserver(observe), runner.WithSignals(make(chan os.Signal)))

	err = r.Run(context.Background())
	var execErr *executor.ExecError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Equal(t, runner.StateFailed, r.State())

	require.NotNil(t, srv)
	assert.Empty(t, srv.Addr())
	_, err = http.Post("http://"+addr+"/echo", "text/plain", strings.NewReader("ping"))
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "serving-async", runner.StateServingAsync.String())
	assert.Equal(t, "unknown", runner.State(42).String())
	assert.True(t, runner.StateFailed.Terminal())
	assert.False(t, runner.StatePrimaryBuilt.Terminal())
}
