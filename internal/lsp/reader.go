package lsp

import (
	"bufio"
	"errors"
	"io"

	"go.uber.org/zap"
)

// reader drains the server's stdout into a Queue on its own goroutine.
type reader struct {
	queue   *Queue
	logger  *zap.Logger
	maxSize int
	done    chan struct{}
}

// startReader takes ownership of r and begins decoding frames into queue.
func startReader(r io.Reader, queue *Queue, maxSize int, logger *zap.Logger) *reader {
	rd := &reader{
		queue:   queue,
		logger:  logger,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go rd.loop(bufio.NewReader(r))
	return rd
}

// loop stops at end of stream or on the first framing or decode error. The
// error is logged but not reported anywhere else; callers waiting for a
// message that never arrives stay blocked.
func (rd *reader) loop(br *bufio.Reader) {
	defer close(rd.done)

	for {
		body, err := ReadFrame(br, rd.maxSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				rd.logger.Debug("server output closed")
			} else {
				rd.logger.Warn("reader stopped", zap.Error(err))
			}
			return
		}

		msg, err := DecodeMessage(body)
		if err != nil {
			rd.logger.Warn("reader stopped", zap.Error(err), zap.ByteString("body", body))
			return
		}

		rd.logger.Debug("received", messageFields(msg)...)
		rd.queue.Push(msg)
	}
}

// Done is closed once the reader goroutine has exited.
func (rd *reader) Done() <-chan struct{} {
	return rd.done
}

func messageFields(msg Message) []zap.Field {
	switch m := msg.(type) {
	case *Notification:
		return []zap.Field{zap.String("kind", "notification"), zap.String("method", m.Method)}
	case *Request:
		return []zap.Field{zap.String("kind", "request"), zap.Uint64("id", m.ID), zap.String("method", m.Method)}
	case *Response:
		fields := []zap.Field{zap.String("kind", "response"), zap.Uint64("id", m.ID)}
		if m.Error != nil {
			fields = append(fields, zap.Int32("code", int32(m.Error.Code)), zap.String("error", m.Error.Message))
		}
		return fields
	default:
		return nil
	}
}
