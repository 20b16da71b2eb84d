package configs

import (
	"context"
	"os"
)

// EnvVars reads configuration from the process environment.
type EnvVars struct{}

func (EnvVars) Get(ctx context.Context, name string) (string, bool, error) {
	v, ok := os.LookupEnv(name)
	return v, ok, nil
}

func (EnvVars) Set(ctx context.Context, name, value string) error {
	return os.Setenv(name, value)
}
