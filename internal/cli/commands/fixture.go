package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/conduit-lang/lspharness/internal/lsp/fixture"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewFixtureCommand creates the fixture command
func NewFixtureCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "fixture",
		Short: "Run the built-in fixture language server",
		Long: `Run the fixture language server on stdin/stdout.

The fixture server is small and deterministic, for exercising LSP clients:
  • echoes initializationOptions under capabilities.experimental
  • logs "client initialized" after the handshake
  • publishes one warning per line containing TODO
  • answers hover with the text of the hovered line
  • fixture.configuration / fixture.ping commands
  • exits with status 3 on a fixture/crash notification

Logs go to stderr; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFixture(cmd, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every message to stderr")

	return cmd
}

func runFixture(cmd *cobra.Command, verbose bool) error {
	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	server := fixture.NewServer(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	err = server.Run(ctx, fixture.StdioRWC{})
	if errors.Is(err, fixture.ErrCrashRequested) {
		logger.Warn("exiting on crash request", zap.Int("code", fixture.CrashExitCode))
		_ = logger.Sync()
		os.Exit(fixture.CrashExitCode)
	}
	return err
}

// newLogger returns a development logger on stderr when verbose, otherwise a
// no-op logger.
func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}
