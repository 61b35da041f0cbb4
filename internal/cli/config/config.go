package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory.
const FileName = "lspharness"

// Config represents the lspharness configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`

	// InitializationOptions are merged over the client's default options as
	// top-level keys.
	InitializationOptions map[string]any `mapstructure:"initialization_options"`
}

// ServerConfig describes how to start the language server
type ServerConfig struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Dir     string            `mapstructure:"dir"`
}

// ClientConfig tunes the client session
type ClientConfig struct {
	PrintStderr  bool          `mapstructure:"print_stderr"`
	MaxFrameSize int           `mapstructure:"max_frame_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
	LanguageID   string        `mapstructure:"language_id"`
}

// Load loads the configuration from path, or from lspharness.yaml in the
// working directory when path is empty. Environment variables prefixed with
// LSPHARNESS_ override file values (LSPHARNESS_SERVER_COMMAND and so on).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.command", "")
	v.SetDefault("server.args", []string{})
	v.SetDefault("server.dir", "")
	v.SetDefault("client.print_stderr", false)
	v.SetDefault("client.max_frame_size", 64<<20)
	v.SetDefault("client.timeout", "10s")
	v.SetDefault("client.language_id", "plaintext")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LSPHARNESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if used := v.ConfigFileUsed(); used != "" {
		if err := loadCaseSensitive(used, &config); err != nil {
			return nil, err
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadCaseSensitive re-reads the map sections viper lower-cases. Environment
// variable names and initialization options are both case-sensitive.
func loadCaseSensitive(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var raw struct {
		Server struct {
			Env map[string]string `yaml:"env"`
		} `yaml:"server"`
		InitializationOptions map[string]any `yaml:"initialization_options"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if raw.Server.Env != nil {
		cfg.Server.Env = raw.Server.Env
	}
	if raw.InitializationOptions != nil {
		cfg.InitializationOptions = raw.InitializationOptions
	}
	return nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Server.Command) == "" {
		return fmt.Errorf("server.command is required (set it in %s.yaml or LSPHARNESS_SERVER_COMMAND)", FileName)
	}
	if cfg.Client.MaxFrameSize < 0 {
		return fmt.Errorf("client.max_frame_size must not be negative, got: %d", cfg.Client.MaxFrameSize)
	}
	if cfg.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive, got: %s", cfg.Client.Timeout)
	}
	for key := range cfg.Server.Env {
		if key == "" || strings.Contains(key, "=") {
			return fmt.Errorf("server.env has an invalid variable name: %q", key)
		}
	}
	return nil
}
