// Package lsp implements a Language Server Protocol client for driving a
// language server over its standard input and output. It frames and decodes
// JSON-RPC messages, queues everything the server sends on a background
// goroutine, and lets callers take the message they want regardless of the
// order in which it arrived.
//
// The client allows a single request in flight: WriteRequest blocks until
// the matching response has been read. Reads have no timeout; a server that
// never answers blocks the caller.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// Client is a session with one language server process.
type Client struct {
	proc   Process
	queue  *Queue
	reader *reader
	logger *zap.Logger

	// writeMu guards writer
	writeMu sync.Mutex
	writer  *bufio.Writer

	// requestID is the id of the next request; it only advances once the
	// matching response has been taken.
	requestID uint64

	rootURI protocol.DocumentURI
	start   time.Time

	// shutdown is set once the shutdown handshake completed; Shutdown may
	// still be running on another goroutine when Close is called.
	shutdown atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	// Logger receives debug logs for every frame; defaults to a no-op logger.
	Logger *zap.Logger
	// RootURI seeds rootUri in Initialize.
	RootURI protocol.DocumentURI
	// MaxFrameSize bounds a single inbound frame; defaults to DefaultMaxFrameSize.
	MaxFrameSize int
}

// NewClient wraps an already running process. The client takes ownership of
// the process's stdio and starts the background reader.
func NewClient(proc Process, opts *ClientOptions) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session", uuid.NewString()))

	maxSize := opts.MaxFrameSize
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	queue := NewQueue()
	return &Client{
		proc:      proc,
		queue:     queue,
		reader:    startReader(proc.Stdout(), queue, maxSize, logger),
		logger:    logger,
		writer:    bufio.NewWriter(proc.Stdin()),
		requestID: 1,
		rootURI:   opts.RootURI,
		start:     time.Now(),
	}
}

// Duration returns the time since the client was created.
func (c *Client) Duration() time.Duration {
	return time.Since(c.start)
}

// QueueLen returns the number of received messages not yet read.
func (c *Client) QueueLen() int {
	return c.queue.Len()
}

// QueueIsEmpty reports whether every received message has been read.
func (c *Client) QueueIsEmpty() bool {
	return c.queue.Len() == 0
}

// NextRequestID returns the id the next request will carry.
func (c *Client) NextRequestID() uint64 {
	return c.requestID
}

// InitializeDefault performs the initialize handshake with default params.
func (c *Client) InitializeDefault() (*protocol.InitializeResult, error) {
	return c.Initialize(nil)
}

// Initialize sends initialize with params from a builder seeded with the
// client's root URI and edited by configure, waits for the response, then
// sends the initialized notification.
func (c *Client) Initialize(configure func(b *InitializeParamsBuilder)) (*protocol.InitializeResult, error) {
	builder := NewInitializeParamsBuilder()
	if c.rootURI != "" {
		builder.SetRootURI(c.rootURI)
	}
	if configure != nil {
		configure(builder)
	}

	var result protocol.InitializeResult
	respErr, err := c.WriteRequest(protocol.MethodInitialize, builder.Build(), &result)
	if err != nil {
		return nil, err
	}
	if respErr != nil {
		return nil, fmt.Errorf("initialize failed: %w", respErr)
	}

	if err := c.WriteNotification(protocol.MethodInitialized, map[string]any{}); err != nil {
		return nil, err
	}
	return &result, nil
}

// Shutdown sends shutdown, waits for the response, then sends exit. After a
// successful Shutdown the server exiting on its own is expected.
func (c *Client) Shutdown() error {
	respErr, err := c.WriteRequest(protocol.MethodShutdown, nil, nil)
	if err != nil {
		return err
	}
	if respErr != nil {
		return fmt.Errorf("shutdown failed: %w", respErr)
	}
	if err := c.WriteNotification(protocol.MethodExit, nil); err != nil {
		return err
	}
	c.shutdown.Store(true)
	return nil
}

// Close tears the session down. A running server is killed and reaped. A
// server that already exited before Shutdown yields ErrUnexpectedExit.
// Later calls return the result of the first.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.teardown()
	})
	return c.closeErr
}

func (c *Client) teardown() error {
	exited, exitErr := c.proc.Exited()
	if exited {
		waitErr := c.proc.Wait()
		if c.shutdown.Load() {
			return nil
		}
		if exitErr == nil {
			exitErr = waitErr
		}
		if exitErr != nil {
			return fmt.Errorf("%w: %v", ErrUnexpectedExit, exitErr)
		}
		return ErrUnexpectedExit
	}

	if err := c.proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill language server: %w", err)
	}
	// the exit status of a killed process carries no information
	_ = c.proc.Wait()
	c.logger.Debug("language server stopped", zap.Duration("duration", c.Duration()))
	return nil
}

// HadNotification reports whether a notification with method has ever been
// received, read or not. Asserting that a notification did arrive is racy,
// so this is meant for asserting that one did not.
func (c *Client) HadNotification(method string) bool {
	return c.queue.Seen(func(msg Message) bool {
		n, ok := msg.(*Notification)
		return ok && n.Method == method
	})
}

// ReadNotification takes the oldest notification of any method, decoding
// its params into params when both are present.
func (c *Client) ReadNotification(params any) (string, error) {
	msg := c.queue.TakeMatching(isNotification)
	n := msg.(*Notification)
	return n.Method, decodeParams(n.Method, n.Params, params)
}

// ReadNotificationMethod takes the oldest notification with the given method.
func (c *Client) ReadNotificationMethod(method string, params any) error {
	msg := c.queue.TakeMatching(notificationWithMethod(method))
	n := msg.(*Notification)
	return decodeParams(n.Method, n.Params, params)
}

// WaitNotification is ReadNotificationMethod bounded by ctx.
func (c *Client) WaitNotification(ctx context.Context, method string, params any) error {
	msg, err := c.queue.TakeMatchingContext(ctx, notificationWithMethod(method))
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", method, err)
	}
	n := msg.(*Notification)
	return decodeParams(n.Method, n.Params, params)
}

// ReadRequest takes the oldest server-initiated request. The caller answers
// it with WriteResponse.
func (c *Client) ReadRequest(params any) (uint64, string, error) {
	msg := c.queue.TakeMatching(func(msg Message) bool {
		_, ok := msg.(*Request)
		return ok
	})
	r := msg.(*Request)
	return r.ID, r.Method, decodeParams(r.Method, r.Params, params)
}

// WriteRequest sends a request and blocks until its response is read. The
// result is decoded into result when both are present. A JSON-RPC error
// response is returned as *ResponseError, not as err.
//
// The next response to arrive must answer this request; any other id is a
// protocol desync and panics with *DesyncError.
func (c *Client) WriteRequest(method string, params, result any) (*ResponseError, error) {
	id := c.requestID
	envelope := map[string]any{
		"jsonrpc": jsonrpc2.Version,
		"id":      id,
		"method":  method,
	}
	if err := setParams(envelope, params); err != nil {
		return nil, err
	}
	if err := c.write(envelope); err != nil {
		return nil, err
	}
	c.logger.Debug("sent request", zap.Uint64("id", id), zap.String("method", method))

	msg := c.queue.TakeMatching(func(msg Message) bool {
		_, ok := msg.(*Response)
		return ok
	})
	resp := msg.(*Response)
	if resp.ID != id {
		panic(&DesyncError{Expected: id, Got: resp.ID})
	}
	c.requestID++

	if err := decodeParams(method, resp.Result, result); err != nil {
		return resp.Error, err
	}
	return resp.Error, nil
}

// WriteNotification sends a notification; no response is expected.
func (c *Client) WriteNotification(method string, params any) error {
	envelope := map[string]any{
		"jsonrpc": jsonrpc2.Version,
		"method":  method,
	}
	if err := setParams(envelope, params); err != nil {
		return err
	}
	if err := c.write(envelope); err != nil {
		return err
	}
	c.logger.Debug("sent notification", zap.String("method", method))
	return nil
}

// WriteResponse answers a server-initiated request with result.
func (c *Client) WriteResponse(id uint64, result any) error {
	envelope := map[string]any{
		"jsonrpc": jsonrpc2.Version,
		"id":      id,
		"result":  result,
	}
	if err := c.write(envelope); err != nil {
		return err
	}
	c.logger.Debug("sent response", zap.Uint64("id", id))
	return nil
}

func (c *Client) write(envelope map[string]any) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteFrame(c.writer, body); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush message: %w", err)
	}
	return nil
}

// setParams adds params to envelope unless they encode to JSON null.
func setParams(envelope map[string]any, params any) error {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if string(raw) == "null" {
		return nil
	}
	envelope["params"] = json.RawMessage(raw)
	return nil
}

func isNotification(msg Message) bool {
	_, ok := msg.(*Notification)
	return ok
}

func notificationWithMethod(method string) func(Message) bool {
	return func(msg Message) bool {
		n, ok := msg.(*Notification)
		return ok && n.Method == method
	}
}
