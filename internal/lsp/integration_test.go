package lsp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conduit-lang/lspharness/internal/lsp/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap/zaptest"
)

// fixtureEnv makes the test binary act as the fixture language server.
const fixtureEnv = "LSPHARNESS_TEST_FIXTURE"

func TestMain(m *testing.M) {
	if os.Getenv(fixtureEnv) == "1" {
		err := fixture.NewServer(nil).Run(context.Background(), fixture.StdioRWC{})
		if errors.Is(err, fixture.ErrCrashRequested) {
			os.Exit(fixture.CrashExitCode)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// newFixtureClient re-executes the test binary as a language server.
func newFixtureClient(t *testing.T) (*Client, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping subprocess test in short mode")
	}

	exe, err := os.Executable()
	require.NoError(t, err)

	root := t.TempDir()
	client, err := NewClientBuilder(exe).
		Env(fixtureEnv, "1").
		Dir(root).
		PrintStderr().
		Logger(zaptest.NewLogger(t)).
		RootURI(uri.File(root)).
		Build()
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })
	return client, root
}

func initializeFixture(t *testing.T, c *Client) {
	t.Helper()
	_, err := c.InitializeDefault()
	require.NoError(t, err)
	require.NoError(t, c.ReadNotificationMethod(protocol.MethodWindowLogMessage, nil))
}

func TestIntegration_Initialize(t *testing.T) {
	c, root := newFixtureClient(t)

	result, err := c.Initialize(func(b *InitializeParamsBuilder) {
		b.SetOption("lint", false).SetCache(filepath.Join(root, "cache"))
	})
	require.NoError(t, err)

	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, fixture.ServerName, result.ServerInfo.Name)

	experimental, ok := result.Capabilities.Experimental.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(uri.File(root)), experimental["rootUri"])

	options, ok := experimental["initializationOptions"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, options["lint"])
	assert.Equal(t, filepath.Join(root, "cache"), options["cache"])
	assert.Equal(t, true, options["enable"])

	var logParams protocol.LogMessageParams
	require.NoError(t, c.ReadNotificationMethod(protocol.MethodWindowLogMessage, &logParams))
	assert.Equal(t, "client initialized", logParams.Message)
	assert.Equal(t, uint64(2), c.NextRequestID())
}

func TestIntegration_Diagnostics(t *testing.T) {
	c, root := newFixtureClient(t)
	initializeFixture(t, c)

	doc := uri.File(filepath.Join(root, "main.ts"))
	require.NoError(t, c.WriteNotification(protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        doc,
			LanguageID: "typescript",
			Version:    1,
			Text:       "// TODO: one\nconst x = 1;\n// TODO: two",
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var params protocol.PublishDiagnosticsParams
	require.NoError(t, c.WaitNotification(ctx, protocol.MethodTextDocumentPublishDiagnostics, &params))
	assert.Equal(t, doc, params.URI)
	require.Len(t, params.Diagnostics, 2)
	assert.Equal(t, uint32(2), params.Diagnostics[1].Range.Start.Line)

	var hover protocol.Hover
	respErr, err := c.WriteRequest(protocol.MethodTextDocumentHover, protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: doc},
			Position:     protocol.Position{Line: 1},
		},
	}, &hover)
	require.NoError(t, err)
	require.Nil(t, respErr)
	assert.Equal(t, "const x = 1;", hover.Contents.Value)
}

func TestIntegration_NotificationsKeepOrder(t *testing.T) {
	c, _ := newFixtureClient(t)
	initializeFixture(t, c)

	var count int
	respErr, err := c.WriteRequest(protocol.MethodWorkspaceExecuteCommand, protocol.ExecuteCommandParams{
		Command:   fixture.CommandPing,
		Arguments: []any{3},
	}, &count)
	require.NoError(t, err)
	require.Nil(t, respErr)
	assert.Equal(t, 3, count)

	// the pings were written before the response, so they are all queued
	assert.Equal(t, 3, c.QueueLen())
	for i := 0; i < 3; i++ {
		var ping struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, c.ReadNotificationMethod(fixture.MethodPing, &ping))
		assert.Equal(t, i, ping.Seq)
	}
	assert.True(t, c.QueueIsEmpty())
}

func TestIntegration_ServerRequest(t *testing.T) {
	c, _ := newFixtureClient(t)
	initializeFixture(t, c)

	type outcome struct {
		result  []map[string]bool
		respErr *ResponseError
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		o.respErr, o.err = c.WriteRequest(protocol.MethodWorkspaceExecuteCommand, protocol.ExecuteCommandParams{
			Command:   fixture.CommandConfiguration,
			Arguments: []any{"lint"},
		}, &o.result)
		done <- o
	}()

	var params protocol.ConfigurationParams
	id, method, err := c.ReadRequest(&params)
	require.NoError(t, err)
	assert.Equal(t, protocol.MethodWorkspaceConfiguration, method)
	require.Len(t, params.Items, 1)
	assert.Equal(t, "lint", params.Items[0].Section)

	require.NoError(t, c.WriteResponse(id, []any{map[string]bool{"enabled": true}}))

	select {
	case o := <-done:
		require.NoError(t, o.err)
		require.Nil(t, o.respErr)
		assert.Equal(t, []map[string]bool{{"enabled": true}}, o.result)
	case <-time.After(10 * time.Second):
		t.Fatal("executeCommand did not complete")
	}
}

func TestIntegration_ErrorResponse(t *testing.T) {
	c, _ := newFixtureClient(t)
	initializeFixture(t, c)

	respErr, err := c.WriteRequest("fixture/unknown", map[string]any{}, nil)
	require.NoError(t, err)
	require.NotNil(t, respErr)
	assert.Equal(t, jsonrpc2.MethodNotFound, respErr.Code)

	assert.False(t, c.HadNotification(protocol.MethodTextDocumentPublishDiagnostics))
}

func TestIntegration_ShutdownThenClose(t *testing.T) {
	c, _ := newFixtureClient(t)
	initializeFixture(t, c)

	require.NoError(t, c.Shutdown())
	assert.NoError(t, c.Close())
}

func TestIntegration_CloseKillsServer(t *testing.T) {
	c, _ := newFixtureClient(t)
	initializeFixture(t, c)

	require.NoError(t, c.Close())
	exited, _ := c.proc.Exited()
	assert.True(t, exited)
}

func TestIntegration_UnexpectedExit(t *testing.T) {
	c, _ := newFixtureClient(t)
	initializeFixture(t, c)

	require.NoError(t, c.WriteNotification(fixture.MethodCrash, nil))
	require.Eventually(t, func() bool {
		exited, _ := c.proc.Exited()
		return exited
	}, 10*time.Second, 10*time.Millisecond)

	err := c.Close()
	require.ErrorIs(t, err, ErrUnexpectedExit)
	assert.Contains(t, err.Error(), fmt.Sprintf("exit status %d", fixture.CrashExitCode))
}
