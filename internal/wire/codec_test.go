package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFrameThenReadFrame(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &buf)

	payload := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"}
	require.NoError(t, c.WriteFrame(payload))

	raw, err := c.ReadFrame()
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, string(raw))
}

func TestWriteFrameExactEnvelope(t *testing.T) {
	var buf bytes.Buffer
	c := New(io.MultiReader(), &buf)

	require.NoError(t, c.WriteFrame(json.RawMessage(`{"a":1}`)))
	want := "Content-Length: 7\r\n\r\n{\"a\":1}"
	require.Equal(t, want, buf.String())
}

func TestReadFrameIgnoresUnrelatedHeaders(t *testing.T) {
	raw := "X-Custom: ignored\r\nContent-Length: 12\r\n\r\n{\"a\":\"bcd\"}\n"
	c := New(strings.NewReader(raw), io.Discard)

	got, err := c.ReadFrame()
	require.NoError(t, err)
	require.JSONEq(t, `{"a":"bcd"}`, strings.TrimSpace(string(got)))
}

func TestReadFrameMissingContentLength(t *testing.T) {
	c := New(strings.NewReader("X-Other: 1\r\n\r\n{}"), io.Discard)

	_, err := c.ReadFrame()
	var mf *MalformedFrame
	require.ErrorAs(t, err, &mf)
	require.Contains(t, mf.Reason, "missing Content-Length")
}

func TestReadFrameNegativeContentLength(t *testing.T) {
	c := New(strings.NewReader("Content-Length: -5\r\n\r\n"), io.Discard)

	_, err := c.ReadFrame()
	var mf *MalformedFrame
	require.ErrorAs(t, err, &mf)
}

func TestReadFrameUnparsableHeader(t *testing.T) {
	c := New(strings.NewReader("not a header line\r\n\r\n"), io.Discard)

	_, err := c.ReadFrame()
	var mf *MalformedFrame
	require.ErrorAs(t, err, &mf)
}

func TestReadFrameShortBody(t *testing.T) {
	c := New(strings.NewReader("Content-Length: 100\r\n\r\n{\"a\":1}"), io.Discard)

	_, err := c.ReadFrame()
	var mf *MalformedFrame
	require.ErrorAs(t, err, &mf)
	require.Contains(t, mf.Reason, "short read")
}

func TestReadFrameCleanEOFBeforeHeaders(t *testing.T) {
	c := New(strings.NewReader(""), io.Discard)

	_, err := c.ReadFrame()
	require.True(t, errors.Is(err, io.EOF))
}
