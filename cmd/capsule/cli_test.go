package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caffeineduck/capsule/capability/configs"
	"github.com/caffeineduck/capsule/executor"
	"github.com/caffeineduck/capsule/internal/wasmtest"
	"github.com/spf13/cobra"
)

const kvConfig = "specversion = \"0.1\"\nsecret_store = \"envvars\"\n\n[[capability]]\nname = \"kv.filesystem\"\n"

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeProject(t *testing.T, module []byte, cfg string) (dir, modulePath, configPath string) {
	t.Helper()
	dir = t.TempDir()
	modulePath = filepath.Join(dir, "app.wasm")
	configPath = filepath.Join(dir, "capsule.toml")
	if err := os.WriteFile(modulePath, module, 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir, modulePath, configPath
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"capsule",
		"WebAssembly",
		"run",
		"secret",
		"version",
		"kv.filesystem",
		"lockd.etcd",
		"--verbose",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIRunHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "run", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"--module",
		"--config",
		"--entry",
		"--no-cache",
		"--memory",
		"--metrics-addr",
		"--stdio-protocol",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("run help output should contain %q", phrase)
		}
	}
}

func TestCLIVersion(t *testing.T) {
	output, err := executeCommand(rootCmd, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, phrase := range []string{"capsule dev", "specversion 0.1"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("version output should contain %q, got %q", phrase, output)
		}
	}
}

func TestCLIMemoryLimit(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"1mb", executor.MemoryLimit1MB},
		{"16MB", executor.MemoryLimit16MB},
		{"64mb", executor.MemoryLimit64MB},
		{"256mb", executor.MemoryLimit256MB},
		{"1gb", executor.MemoryLimit1GB},
		{"", 0},
		{"lots", 0},
	}

	for _, tc := range tests {
		if got := parseMemoryLimit(tc.in); got != tc.want {
			t.Errorf("parseMemoryLimit(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestCLIRunKV(t *testing.T) {
	dir, modulePath, configPath := writeProject(t,
		wasmtest.Caller("kv", "set", `{"key":"greeting","value":"hello"}`), kvConfig)

	_, err := executeCommand(rootCmd, "run", "-m", modulePath, "-c", configPath,
		"--no-cache", "--memory", "16mb", "--stdio-protocol=false")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := readFile(t, filepath.Join(dir, ".capsule", "kv", "default", "greeting")); got != "hello" {
		t.Errorf("greeting = %q, want %q", got, "hello")
	}
}

func TestCLIRunStdioProtocol(t *testing.T) {
	dir, modulePath, configPath := writeProject(t,
		wasmtest.StdioCaller("\x00CAPSULE:{\"fn\":\"kv.set\",\"args\":{\"key\":\"via\",\"value\":\"stderr\"}}\x00"), kvConfig)

	_, err := executeCommand(rootCmd, "run", "-m", modulePath, "-c", configPath,
		"--no-cache", "--memory", "", "--stdio-protocol")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := readFile(t, filepath.Join(dir, ".capsule", "kv", "default", "via")); got != "stderr" {
		t.Errorf("via = %q, want %q", got, "stderr")
	}
}

func TestCLIRunEntryPointFails(t *testing.T) {
	_, modulePath, configPath := writeProject(t, wasmtest.Exit(3), "specversion = \"0.1\"\n")

	_, err := executeCommand(rootCmd, "run", "-m", modulePath, "-c", configPath,
		"--no-cache", "--memory", "", "--stdio-protocol=false")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exited with code 3") {
		t.Errorf("error should mention the exit code, got: %v", err)
	}
}

func TestCLIRunUnknownCapability(t *testing.T) {
	_, modulePath, configPath := writeProject(t, wasmtest.Noop(),
		"specversion = \"0.1\"\n\n[[capability]]\nname = \"kv.redis\"\n")

	_, err := executeCommand(rootCmd, "run", "-m", modulePath, "-c", configPath, "--no-cache")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "kv.redis") {
		t.Errorf("error should name the capability, got: %v", err)
	}
}

func TestCLIRunMissingModule(t *testing.T) {
	dir, _, configPath := writeProject(t, wasmtest.Noop(), "specversion = \"0.1\"\n")

	_, err := executeCommand(rootCmd, "run", "-m", filepath.Join(dir, "missing.wasm"), "-c", configPath, "--no-cache")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "read module") {
		t.Errorf("error should mention the module, got: %v", err)
	}
}

func TestCLISecret(t *testing.T) {
	t.Setenv(configs.KeyEnv, base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("k"), 32)))
	dir := t.TempDir()
	configPath := filepath.Join(dir, "capsule.toml")

	output, err := executeCommand(rootCmd, "secret", "-c", configPath, "-k", "API_TOKEN", "-v", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "stored API_TOKEN") {
		t.Errorf("unexpected output %q", output)
	}
	if _, err := os.Stat(filepath.Join(dir, "capsule.secrets.toml")); err != nil {
		t.Fatalf("secrets file not written: %v", err)
	}

	v, ok, err := configs.NewUserSecrets(configPath).Get(context.Background(), "API_TOKEN")
	if err != nil || !ok {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if v != "s3cret" {
		t.Errorf("secret = %q, want %q", v, "s3cret")
	}
}
