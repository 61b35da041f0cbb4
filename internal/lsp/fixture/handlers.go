package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// DiagnosticMarker is the text that makes a line produce a diagnostic.
const DiagnosticMarker = "TODO"

// handleTextDocumentDidOpen stores the document and publishes its diagnostics
func (s *Server) handleTextDocumentDidOpen(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse didOpen params")
	}

	uri := params.TextDocument.URI
	s.setDocument(uri, params.TextDocument.Text)
	s.publishDiagnostics(ctx, uri, uint32(params.TextDocument.Version))

	return reply(ctx, nil, nil)
}

// handleTextDocumentDidChange applies a full-document change
func (s *Server) handleTextDocumentDidChange(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse didChange params")
	}

	if len(params.ContentChanges) == 0 {
		return reply(ctx, nil, nil)
	}

	// full sync, so the last change is the whole document
	uri := params.TextDocument.URI
	s.setDocument(uri, params.ContentChanges[len(params.ContentChanges)-1].Text)
	s.publishDiagnostics(ctx, uri, uint32(params.TextDocument.Version))

	return reply(ctx, nil, nil)
}

// handleTextDocumentDidClose forgets the document and clears its diagnostics
func (s *Server) handleTextDocumentDidClose(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse didClose params")
	}

	uri := params.TextDocument.URI
	s.mu.Lock()
	delete(s.documents, uri)
	s.mu.Unlock()

	if err := s.client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	}); err != nil {
		s.logger.Warn("failed to clear diagnostics", zap.Error(err))
	}

	return reply(ctx, nil, nil)
}

// handleTextDocumentHover returns the hovered line as plain text
func (s *Server) handleTextDocumentHover(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.HoverParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse hover params")
	}

	s.mu.Lock()
	text, ok := s.documents[params.TextDocument.URI]
	s.mu.Unlock()
	if !ok {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, fmt.Sprintf("document not open: %s", params.TextDocument.URI))
	}

	lines := strings.Split(text, "\n")
	line := int(params.Position.Line)
	if line >= len(lines) {
		return reply(ctx, nil, nil)
	}

	return reply(ctx, protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.PlainText,
			Value: lines[line],
		},
	}, nil)
}

// handleExecuteCommand runs the fixture commands. Commands that call back
// into the client reply from their own goroutine: the connection reads
// responses on the goroutine that invokes this handler.
func (s *Server) handleExecuteCommand(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.ExecuteCommandParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse executeCommand params")
	}

	switch params.Command {
	case CommandConfiguration:
		section := ""
		if len(params.Arguments) > 0 {
			section, _ = params.Arguments[0].(string)
		}
		go func() {
			result, err := s.client.Configuration(ctx, &protocol.ConfigurationParams{
				Items: []protocol.ConfigurationItem{{Section: section}},
			})
			if err != nil {
				s.logger.Warn("configuration request failed", zap.Error(err))
				_ = s.replyWithError(ctx, reply, jsonrpc2.InternalError, err.Error())
				return
			}
			_ = reply(ctx, result, nil)
		}()
		return nil

	case CommandPing:
		count := 0
		if len(params.Arguments) > 0 {
			if n, ok := params.Arguments[0].(float64); ok {
				count = int(n)
			}
		}
		for i := 0; i < count; i++ {
			if err := s.conn.Notify(ctx, MethodPing, map[string]int{"seq": i}); err != nil {
				return s.replyWithError(ctx, reply, jsonrpc2.InternalError, err.Error())
			}
		}
		return reply(ctx, count, nil)

	default:
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, fmt.Sprintf("unknown command %q", params.Command))
	}
}

func (s *Server) setDocument(uri protocol.DocumentURI, text string) {
	s.mu.Lock()
	s.documents[uri] = text
	s.mu.Unlock()
}

// publishDiagnostics reports one warning per line containing DiagnosticMarker
func (s *Server) publishDiagnostics(ctx context.Context, uri protocol.DocumentURI, version uint32) {
	s.mu.Lock()
	text := s.documents[uri]
	s.mu.Unlock()

	params := protocol.PublishDiagnosticsParams{
		URI:         uri,
		Version:     version,
		Diagnostics: Diagnose(text),
	}
	if err := s.client.PublishDiagnostics(ctx, &params); err != nil {
		s.logger.Warn("failed to publish diagnostics", zap.Error(err))
	}
}

// Diagnose returns the fixture diagnostics for a document.
func Diagnose(text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}
	for i, line := range strings.Split(text, "\n") {
		col := strings.Index(line, DiagnosticMarker)
		if col < 0 {
			continue
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: uint32(i), Character: uint32(col)},
				End:   protocol.Position{Line: uint32(i), Character: uint32(col + len(DiagnosticMarker))},
			},
			Severity: protocol.DiagnosticSeverityWarning,
			Source:   ServerName,
			Message:  "unresolved " + DiagnosticMarker,
		})
	}
	return diagnostics
}
