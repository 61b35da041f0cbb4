package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(oldWd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LSPHARNESS_SERVER_COMMAND", "my-language-server")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "my-language-server", cfg.Server.Command)
	assert.Empty(t, cfg.Server.Args)
	assert.False(t, cfg.Client.PrintStderr)
	assert.Equal(t, 64<<20, cfg.Client.MaxFrameSize)
	assert.Equal(t, 10*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "plaintext", cfg.Client.LanguageID)
	assert.Empty(t, cfg.InitializationOptions)
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	configContent := `
server:
  command: deno
  args: [lsp, --quiet]
  dir: /srv/project
  env:
    NO_COLOR: "1"
    DENO_DIR: /tmp/deno
client:
  print_stderr: true
  max_frame_size: 1024
  timeout: 2s
  language_id: typescript
initialization_options:
  importMap: import_map.json
  codeLens:
    references: false
`
	require.NoError(t, os.WriteFile(FileName+".yaml", []byte(configContent), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "deno", cfg.Server.Command)
	assert.Equal(t, []string{"lsp", "--quiet"}, cfg.Server.Args)
	assert.Equal(t, "/srv/project", cfg.Server.Dir)
	assert.Equal(t, map[string]string{"NO_COLOR": "1", "DENO_DIR": "/tmp/deno"}, cfg.Server.Env)
	assert.True(t, cfg.Client.PrintStderr)
	assert.Equal(t, 1024, cfg.Client.MaxFrameSize)
	assert.Equal(t, 2*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "typescript", cfg.Client.LanguageID)

	// option keys keep their case
	assert.Equal(t, "import_map.json", cfg.InitializationOptions["importMap"])
	assert.Equal(t, map[string]any{"references": false}, cfg.InitializationOptions["codeLens"])
}

func TestLoadExplicitPath(t *testing.T) {
	chdir(t, t.TempDir())

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  command: custom-ls\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-ls", cfg.Server.Command)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	chdir(t, t.TempDir())
	require.NoError(t, os.WriteFile(FileName+".yaml", []byte("server:\n  command: from-file\nclient:\n  timeout: 1s\n"), 0o644))

	t.Setenv("LSPHARNESS_SERVER_COMMAND", "from-env")
	t.Setenv("LSPHARNESS_CLIENT_TIMEOUT", "30s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.Command)
	assert.Equal(t, 30*time.Second, cfg.Client.Timeout)
}

func TestLoadRequiresCommand(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.command is required")
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Command: "ls"},
			Client: ClientConfig{Timeout: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"blank command", func(c *Config) { c.Server.Command = "  " }, "server.command is required"},
		{"negative frame size", func(c *Config) { c.Client.MaxFrameSize = -1 }, "client.max_frame_size must not be negative"},
		{"zero timeout", func(c *Config) { c.Client.Timeout = 0 }, "client.timeout must be positive"},
		{"bad env name", func(c *Config) { c.Server.Env = map[string]string{"A=B": "x"} }, "invalid variable name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
