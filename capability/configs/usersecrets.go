package configs

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeyEnv holds a base64 encoded key for user secrets. Without it the key is
// read from, or created at, KeyFile under the user configuration directory.
const (
	KeyEnv  = "CAPSULE_USERSECRETS_KEY"
	KeyFile = "usersecrets.key"
)

var ErrBadKey = errors.New("invalid user secrets key")

type secretsFile struct {
	Secrets map[string]string `toml:"secrets"`
}

// UserSecrets stores values encrypted with XChaCha20-Poly1305 in a TOML file
// next to the configuration. The secret name is bound as associated data.
type UserSecrets struct {
	path    string
	keyPath string
	mu      sync.Mutex
}

// SecretsPath returns the secrets file used for configPath:
// capsule.toml maps to capsule.secrets.toml.
func SecretsPath(configPath string) string {
	ext := filepath.Ext(configPath)
	return strings.TrimSuffix(configPath, ext) + ".secrets.toml"
}

func NewUserSecrets(configPath string) *UserSecrets {
	keyPath := ""
	if dir, err := os.UserConfigDir(); err == nil {
		keyPath = filepath.Join(dir, "capsule", KeyFile)
	}
	return &UserSecrets{path: SecretsPath(configPath), keyPath: keyPath}
}

// Path is the secrets file location.
func (u *UserSecrets) Path() string {
	return u.path
}

func (u *UserSecrets) Get(ctx context.Context, name string) (string, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := u.load()
	if err != nil {
		return "", false, err
	}
	sealed, ok := f.Secrets[name]
	if !ok {
		return "", false, nil
	}
	key, err := u.key(false)
	if err != nil {
		return "", false, err
	}
	plain, err := open(key, name, sealed)
	if err != nil {
		return "", false, fmt.Errorf("decrypt %s: %w", name, err)
	}
	return plain, true, nil
}

func (u *UserSecrets) Set(ctx context.Context, name, value string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := u.load()
	if err != nil {
		return err
	}
	key, err := u.key(true)
	if err != nil {
		return err
	}
	sealed, err := seal(key, name, value)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", name, err)
	}
	f.Secrets[name] = sealed

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}
	if err := os.WriteFile(u.path, data, 0o600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}
	return nil
}

func (u *UserSecrets) load() (*secretsFile, error) {
	f := &secretsFile{}
	data, err := os.ReadFile(u.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	if len(data) > 0 {
		if err := toml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parse secrets: %w", err)
		}
	}
	if f.Secrets == nil {
		f.Secrets = make(map[string]string)
	}
	return f, nil
}

// key returns the encryption key, generating and persisting one when create
// is set and none exists.
func (u *UserSecrets) key(create bool) ([]byte, error) {
	if v := os.Getenv(KeyEnv); v != "" {
		return decodeKey(v)
	}
	if u.keyPath == "" {
		return nil, fmt.Errorf("%w: set %s", ErrBadKey, KeyEnv)
	}

	data, err := os.ReadFile(u.keyPath)
	if err == nil {
		return decodeKey(strings.TrimSpace(string(data)))
	}
	if !errors.Is(err, fs.ErrNotExist) || !create {
		return nil, fmt.Errorf("read key: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(u.keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(u.keyPath, []byte(base64.StdEncoding.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return key, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrBadKey, chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

func seal(key []byte, name, value string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(value), []byte(name))
	return base64.StdEncoding.EncodeToString(out), nil
}

func open(key []byte, name, sealed string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	if len(data) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
