package lsp

import (
	"errors"
	"fmt"

	"go.lsp.dev/jsonrpc2"
)

// Framing errors. Any of these stops the background reader.
var (
	// ErrTruncatedFrame is returned when the stream ends before the number of
	// body bytes announced by Content-Length could be read.
	ErrTruncatedFrame = errors.New("truncated frame body")

	// ErrMissingContentLength is returned when a header block ends without a
	// Content-Length header.
	ErrMissingContentLength = errors.New("missing Content-Length header")

	// ErrFrameTooLarge is returned when Content-Length exceeds the reader's limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// ErrUnexpectedExit is returned by Client.Close when the server process
// terminated before the shutdown handshake.
var ErrUnexpectedExit = errors.New("language server exited unexpectedly")

// ResponseError is the error object of a JSON-RPC response.
type ResponseError = jsonrpc2.Error

// DecodeError reports a payload that could not be decoded into the shape a
// caller asked for. Payload holds the raw JSON for diagnosis.
type DecodeError struct {
	Method  string
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("could not deserialize message %q: %v\n\n%s", e.Method, e.Err, e.Payload)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DesyncError is the panic value raised when a response arrives for a
// request id other than the one in flight.
type DesyncError struct {
	Expected uint64
	Got      uint64
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("protocol desync: expected response id %d, got %d", e.Expected, e.Got)
}
