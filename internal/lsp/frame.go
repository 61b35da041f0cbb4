package lsp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"go.lsp.dev/jsonrpc2"
)

// DefaultMaxFrameSize bounds the body allocation for a single frame.
const DefaultMaxFrameSize = 64 << 20

var contentLengthRe = regexp.MustCompile(`(?i)^content-length:\s+(\d+)`)

// ReadFrame reads one header block and the body it announces.
//
// It returns io.EOF when the stream ends before a complete header block has
// been read. The body is exactly Content-Length bytes even when the payload
// that follows is longer; the remainder is left in r. A maxSize of zero or
// less disables the size check.
func ReadFrame(r *bufio.Reader, maxSize int) ([]byte, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed reading header line: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		// last Content-Length wins
		if m := contentLengthRe.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("failed parsing %s %q: %w", jsonrpc2.HdrContentLength, m[1], err)
			}
			length = n
		}
	}

	if length < 0 {
		return nil, ErrMissingContentLength
	}
	if maxSize > 0 && length > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}

	body := make([]byte, length)
	if n, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: read %d of %d bytes: %v", ErrTruncatedFrame, n, length, err)
	}
	return body, nil
}

// WriteFrame writes body preceded by its Content-Length header. The length
// is the byte length of body, not its character count.
func WriteFrame(w io.Writer, body []byte) error {
	if _, err := fmt.Fprintf(w, "%s: %d%s", jsonrpc2.HdrContentLength, len(body), jsonrpc2.HdrContentSeparator); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
