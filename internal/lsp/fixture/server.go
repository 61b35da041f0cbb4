// Package fixture implements a small, deterministic language server used to
// exercise the lsp client end to end. It speaks real LSP over any
// io.ReadWriteCloser, typically the process's stdin/stdout.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

const (
	// ServerName is reported in serverInfo.
	ServerName = "lspharness-fixture"

	// MethodCrash is a notification that makes Run return ErrCrashRequested
	// without a shutdown handshake.
	MethodCrash = "fixture/crash"

	// MethodPing is the notification sent by CommandPing.
	MethodPing = "fixture/ping"

	// CommandConfiguration asks the client for workspace/configuration of the
	// section given as first argument and replies with the client's answer.
	CommandConfiguration = "fixture.configuration"

	// CommandPing sends one fixture/ping notification per count given as
	// first argument, then replies with the count.
	CommandPing = "fixture.ping"

	// CrashExitCode is the exit status used by callers when Run reports
	// ErrCrashRequested.
	CrashExitCode = 3
)

// ErrCrashRequested is returned by Run after a fixture/crash notification.
var ErrCrashRequested = errors.New("crash requested by client")

// Server is the fixture language server.
type Server struct {
	conn   jsonrpc2.Conn
	client protocol.Client
	logger *zap.Logger

	mu        sync.Mutex
	documents map[protocol.DocumentURI]string
	options   any
	rootURI   protocol.DocumentURI

	capabilities protocol.ServerCapabilities
	shutdown     atomic.Bool
	crashed      atomic.Bool
	cancel       context.CancelFunc
}

// NewServer creates a fixture server; a nil logger disables logging.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		logger:    logger,
		documents: make(map[protocol.DocumentURI]string),
		capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindFull,
			},
			HoverProvider: true,
			ExecuteCommandProvider: &protocol.ExecuteCommandOptions{
				Commands: []string{CommandConfiguration, CommandPing},
			},
		},
	}
}

// Run serves rwc until the client sends exit, the stream closes or ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, rwc io.ReadWriteCloser) error {
	s.logger.Info("starting fixture language server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel

	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	s.conn = conn
	s.client = protocol.ClientDispatcher(conn, s.logger)

	conn.Go(ctx, s.handler())

	select {
	case <-ctx.Done():
	case <-conn.Done():
		if err := conn.Err(); err != nil {
			s.logger.Debug("connection closed", zap.Error(err))
		}
	}

	s.logger.Info("stopping fixture language server")
	closeErr := conn.Close()
	if s.crashed.Load() {
		return ErrCrashRequested
	}
	return closeErr
}

// handler returns the JSON-RPC handler function
func (s *Server) handler() jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		s.logger.Debug("received", zap.String("method", req.Method()))

		switch req.Method() {
		case protocol.MethodInitialize:
			return s.handleInitialize(ctx, reply, req)
		case protocol.MethodInitialized:
			return s.handleInitialized(ctx, reply, req)
		case protocol.MethodShutdown:
			return s.handleShutdown(ctx, reply, req)
		case protocol.MethodExit:
			return s.handleExit(ctx, reply, req)
		case protocol.MethodTextDocumentDidOpen:
			return s.handleTextDocumentDidOpen(ctx, reply, req)
		case protocol.MethodTextDocumentDidChange:
			return s.handleTextDocumentDidChange(ctx, reply, req)
		case protocol.MethodTextDocumentDidClose:
			return s.handleTextDocumentDidClose(ctx, reply, req)
		case protocol.MethodTextDocumentHover:
			return s.handleTextDocumentHover(ctx, reply, req)
		case protocol.MethodWorkspaceExecuteCommand:
			return s.handleExecuteCommand(ctx, reply, req)
		case MethodCrash:
			return s.handleCrash(ctx, reply, req)
		default:
			return reply(ctx, nil, jsonrpc2.ErrMethodNotFound)
		}
	}
}

// handleInitialize echoes the received initialization options back under
// the experimental server capability so clients can inspect them.
func (s *Server) handleInitialize(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.InitializeParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse initialize params")
	}

	s.mu.Lock()
	s.options = params.InitializationOptions
	if len(params.WorkspaceFolders) > 0 {
		s.rootURI = protocol.DocumentURI(params.WorkspaceFolders[0].URI)
	} else {
		s.rootURI = params.RootURI
	}
	s.mu.Unlock()

	clientName := ""
	if params.ClientInfo != nil {
		clientName = params.ClientInfo.Name
	}
	s.logger.Info("initialize", zap.String("client", clientName), zap.String("root", string(s.rootURI)))

	caps := s.capabilities
	caps.Experimental = map[string]any{
		"initializationOptions": params.InitializationOptions,
		"rootUri":               params.RootURI,
	}

	return reply(ctx, protocol.InitializeResult{
		Capabilities: caps,
		ServerInfo: &protocol.ServerInfo{
			Name:    ServerName,
			Version: "0.1.0",
		},
	}, nil)
}

func (s *Server) handleInitialized(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	if err := s.client.LogMessage(ctx, &protocol.LogMessageParams{
		Type:    protocol.MessageTypeInfo,
		Message: "client initialized",
	}); err != nil {
		s.logger.Warn("failed to log message", zap.Error(err))
	}
	return reply(ctx, nil, nil)
}

func (s *Server) handleShutdown(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.shutdown.Store(true)
	return reply(ctx, nil, nil)
}

func (s *Server) handleExit(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	if !s.shutdown.Load() {
		s.logger.Warn("exit received before shutdown")
	}
	if err := reply(ctx, nil, nil); err != nil {
		s.logger.Warn("failed to reply to exit", zap.Error(err))
	}
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Server) handleCrash(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.crashed.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	return reply(ctx, nil, nil)
}

// replyWithError sends an LSP-compliant error response
func (s *Server) replyWithError(ctx context.Context, reply jsonrpc2.Replier, code jsonrpc2.Code, message string) error {
	return reply(ctx, nil, &jsonrpc2.Error{
		Code:    code,
		Message: message,
	})
}

// StdioRWC implements io.ReadWriteCloser for stdin/stdout
type StdioRWC struct{}

func (StdioRWC) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (StdioRWC) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func (StdioRWC) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
