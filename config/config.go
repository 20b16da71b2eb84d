// Package config loads capsule configuration files.
//
// A configuration declares the spec version, an optional secret store and
// the capabilities a module may use:
//
//	specversion = "0.1"
//	secret_store = "configs.usersecrets"
//
//	[[capability]]
//	name = "kv.filesystem"
//
//	[[capability]]
//	name = "http"
//
// YAML files with the same keys are accepted as well.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvFile is loaded from the configuration directory when present.
const EnvFile = ".env"

var ErrUnsupportedFormat = errors.New("unsupported configuration format")

// Capability is one capability declaration.
type Capability struct {
	Name string `toml:"name" yaml:"name"`
}

// File is a parsed configuration file.
type File struct {
	SpecVersion  string       `toml:"specversion" yaml:"specversion"`
	SecretStore  string       `toml:"secret_store" yaml:"secret_store"`
	Capabilities []Capability `toml:"capability" yaml:"capability"`

	// Path is the absolute path the file was loaded from.
	Path string `toml:"-" yaml:"-"`
}

// Names returns the declared capability names in declaration order.
func (f *File) Names() []string {
	names := make([]string, len(f.Capabilities))
	for i, c := range f.Capabilities {
		names[i] = c.Name
	}
	return names
}

// Has reports whether a capability with the given name is declared.
func (f *File) Has(name string) bool {
	for _, c := range f.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Load reads the configuration at path. The format is chosen by extension:
// .yaml and .yml are YAML, everything else is TOML. An .env file next to the
// configuration is loaded into the process environment without overriding
// variables that are already set.
func Load(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	f, err := Parse(data, formatOf(abs))
	if err != nil {
		return nil, err
	}
	f.Path = abs

	if err := loadEnv(filepath.Join(filepath.Dir(abs), EnvFile)); err != nil {
		return nil, err
	}
	return f, nil
}

// Format is a configuration encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Parse decodes a configuration document.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return &f, nil
}

func loadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
