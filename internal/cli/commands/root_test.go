package commands

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/conduit-lang/lspharness/internal/lsp/fixture"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureEnv makes the test binary run `lspharness fixture` instead of the
// tests, so probe has a real server to talk to.
const fixtureEnv = "LSPHARNESS_TEST_FIXTURE"

func TestMain(m *testing.M) {
	if os.Getenv(fixtureEnv) == "1" {
		cmd := NewRootCommand()
		cmd.SetArgs([]string{"fixture"})
		if err := cmd.Execute(); err != nil && !errors.Is(err, fixture.ErrCrashRequested) {
			os.Exit(1)
		}
		os.Exit(0)
	}

	color.NoColor = true
	os.Exit(m.Run())
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "lspharness", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"version", "probe", "fixture"} {
		assert.Contains(t, names, expected)
	}
}

func TestNewVersionCommand(t *testing.T) {
	Version = "1.0.0-test"
	GitCommit = "abc123"
	BuildDate = "2025-01-01"
	GoVersion = "go1.23"

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "lspharness version: 1.0.0-test")
	assert.Contains(t, out.String(), "Client info: lspharness 1.0.0")
	assert.Contains(t, out.String(), "Git commit: abc123")
	assert.Contains(t, out.String(), "Go version: go1.23")
}

func TestFixtureCommandRejectsArgs(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"fixture", "extra"})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestReportedError(t *testing.T) {
	inner := errors.New("boom")
	err := error(&reportedError{err: inner})

	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, inner)
}
