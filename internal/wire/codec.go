// Package wire implements the LSP message framing: ASCII headers
// terminated by CRLF, a blank line, then a UTF-8 JSON body of exactly
// Content-Length bytes. Adapted from the teacher's
// internal/lsp.Transport.readMessage/writeMessage, split into its own
// component per spec.md §4.1's component boundary.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MalformedFrame is returned for any framing-level failure: a missing or
// negative Content-Length, a header parse error, or a short read before
// EOF in the middle of a frame body.
type MalformedFrame struct {
	Reason string
	Line   string
}

func (e *MalformedFrame) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("malformed frame: %s (%q)", e.Reason, e.Line)
	}
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// maxContentLength guards against a corrupt or hostile header driving an
// unbounded allocation; LSP payloads are not expected to approach this.
const maxContentLength = 64 << 20 // 64MiB

// Codec reads and writes LSP-framed JSON-RPC messages over a
// byte-oriented duplex stream. It has no opinion on message contents; it
// deals only in raw JSON bodies.
type Codec struct {
	r *bufio.Reader
	w io.Writer
}

// New wraps a reader and writer with LSP framing. The reader and writer
// are typically the two halves of the same duplex stream (a pipe, socket,
// or process stdio), but need not be.
func New(r io.Reader, w io.Writer) *Codec {
	return &Codec{r: bufio.NewReader(r), w: w}
}

// ReadFrame blocks until a full frame has been read and returns its JSON
// body. It returns io.EOF when the underlying stream ends before a
// complete header line has been read; any later truncation is reported
// as *MalformedFrame.
func (c *Codec) ReadFrame() (json.RawMessage, error) {
	contentLength := -1
	sawHeader := false

	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			if !sawHeader && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, &MalformedFrame{Reason: "header read failed: " + err.Error()}
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		sawHeader = true

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &MalformedFrame{Reason: "unparsable header", Line: line}
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue // other headers are ignored per spec.md §4.1
		}

		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 || n > maxContentLength {
			return nil, &MalformedFrame{Reason: "invalid Content-Length", Line: line}
		}
		contentLength = n
	}

	if contentLength < 0 {
		return nil, &MalformedFrame{Reason: "missing Content-Length header"}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MalformedFrame{Reason: "short read: stream closed mid-frame"}
		}
		return nil, &MalformedFrame{Reason: "short read: " + err.Error()}
	}

	return json.RawMessage(body), nil
}

// WriteFrame serializes v to JSON and emits it with a Content-Length
// header. Callers are responsible for serializing concurrent writes; the
// Codec itself performs no locking (spec.md §4.2 places write
// serialization in the Transport, not the codec).
func (c *Codec) WriteFrame(v any) error {
	var body []byte
	switch t := v.(type) {
	case json.RawMessage:
		body = t
	case []byte:
		body = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		body = b
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := io.WriteString(c.w, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}
