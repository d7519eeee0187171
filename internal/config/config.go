package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/geoai/stackctl/internal/logger"
	"github.com/geoai/stackctl/internal/registry"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string              `toml:"env" mapstructure:"env"`
	EnvFiles []string              `toml:"env_files" mapstructure:"env_files"`
	Log      *logger.SinkConfig    `toml:"log" mapstructure:"log"`
	History  HistoryConfig         `toml:"history" mapstructure:"history"`
	Serve    ServeConfig           `toml:"serve" mapstructure:"serve"`
	Services []registry.Definition `toml:"services" mapstructure:"services"`
}

// HistoryConfig selects the session history sink.
type HistoryConfig struct {
	// Path of the SQLite database file. Empty disables history.
	Path string `toml:"path" mapstructure:"path"`
}

// ServeConfig configures the read-only HTTP observer.
type ServeConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

const defaultListen = "127.0.0.1:8418"

// Load reads and validates a stack config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if len(fc.Services) == 0 {
		return nil, fmt.Errorf("config %s declares no services", path)
	}
	if fc.Serve.Listen == "" {
		fc.Serve.Listen = defaultListen
	}
	return &fc, nil
}

// Registry builds the validated service registry from the config.
func (fc *FileConfig) Registry() (*registry.Registry, error) {
	return registry.New(fc.Services)
}

// LogDefaults returns the stack-wide per-service log sink defaults.
func (fc *FileConfig) LogDefaults() logger.SinkConfig {
	if fc.Log == nil {
		return logger.SinkConfig{}
	}
	return *fc.Log
}

// GlobalEnv merges env_files contents (in order) with the top-level env list,
// the list overriding last. Entries are "KEY=VALUE".
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines. Blank lines and lines starting with #
// are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
