// Package settings supplies per-vendor credentials to the engine. The engine
// only needs key-value lookup; the file-backed store is one implementation.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const DefaultConfigFilename = "config.yaml"

// Credentials is what a vendor adapter needs to authenticate a request.
type Credentials struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Organization string `mapstructure:"organization"`
}

// Provider is the lookup interface the engine consumes.
type Provider interface {
	Get(vendor string) (Credentials, error)
}

// Static is an in-memory settings provider, used in tests and embedding hosts
// that manage credentials themselves.
type Static map[string]Credentials

func (s Static) Get(vendor string) (Credentials, error) {
	return s[vendor], nil
}

// Store is a viper-backed file store with environment overrides
// (LLMBRIDGE_PROVIDERS_<VENDOR>_API_KEY and friends).
type Store struct {
	v    *viper.Viper
	path string
}

func NewStore(baseDir string) *Store {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(baseDir)
	v.SetEnvPrefix("llmbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Store{
		v:    v,
		path: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

// Load reads the config file if it exists. A missing file is not an error:
// environment variables may carry everything needed.
func (s *Store) Load() error {
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read settings: %w", err)
	}
	return nil
}

func (s *Store) Get(vendor string) (Credentials, error) {
	prefix := "providers." + vendor + "."
	return Credentials{
		APIKey:       s.v.GetString(prefix + "api_key"),
		BaseURL:      s.v.GetString(prefix + "base_url"),
		Organization: s.v.GetString(prefix + "organization"),
	}, nil
}

// Set updates a vendor's credentials in the store (memory only until Save).
func (s *Store) Set(vendor string, creds Credentials) {
	prefix := "providers." + vendor + "."
	s.v.Set(prefix+"api_key", creds.APIKey)
	if creds.BaseURL != "" {
		s.v.Set(prefix+"base_url", creds.BaseURL)
	}
	if creds.Organization != "" {
		s.v.Set(prefix+"organization", creds.Organization)
	}
}

// DefaultModel returns the configured "provider,model" default, if any.
func (s *Store) DefaultModel() string {
	return s.v.GetString("default_model")
}

func (s *Store) SetDefaultModel(model string) {
	s.v.Set("default_model", model)
}

func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
