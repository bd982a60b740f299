// Package transport owns the wire codec plus a reader task and surfaces
// decoded payloads, stderr lines, and close events upward through a
// callback sink (spec.md §4.2). Adapted from the teacher's
// internal/lsp.ClangdClient process-spawning logic and
// internal/lsp.Transport read loop, generalized to also dial TCP and
// WebSocket endpoints.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/firi/lspcore/internal/wire"
)

// Kind discriminates how a Transport reaches the server process.
type Kind int

const (
	KindStdio Kind = iota
	KindTCP
	KindWebSocket
)

// Params describes how to spawn or connect to a language server.
// Only the interface the core consumes is specified here; spawning a
// process or binding a socket is otherwise an external collaborator's
// concern per spec.md §1.
type Params struct {
	Kind Kind

	// Stdio
	Command string
	Args    []string
	Env     []string

	// TCP
	Address string

	// WebSocket
	URL string

	// WorkingDir is the process cwd for Kind == KindStdio.
	WorkingDir string
}

// Callbacks is the upward sink a Transport reports to. OnPayload runs on
// the reader goroutine, OnStderrMessage on the stderr-drain goroutine,
// and OnTransportClose on a separate goroutine once both have returned;
// implementations must not block indefinitely.
type Callbacks interface {
	OnPayload(payload json.RawMessage)
	OnStderrMessage(line string)
	// OnTransportClose fires exactly once, with the process exit code (or
	// -1 if not applicable) and an error describing an abnormal close, or
	// nil for an orderly one.
	OnTransportClose(exitCode int, err error)
}

// Transport is a duplex, framed connection to a single language server
// instance. It is safe for concurrent use: Send serializes concurrent
// writers, and Close is idempotent.
type Transport struct {
	codec  *wire.Codec
	closer io.Closer
	cmd    *exec.Cmd
	cb     Callbacks

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	// joined closes once group.Wait() has returned and cb.OnTransportClose
	// has been called, so Close can block until the reader/stderr tasks
	// have actually stopped instead of merely requesting that they stop.
	joined chan struct{}

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New spawns or connects according to params and launches the reader
// (and, for stdio, stderr-drain) tasks. The returned Transport is ready
// for Send immediately; frames start flowing to cb asynchronously.
func New(params Params, cb Callbacks) (*Transport, error) {
	switch params.Kind {
	case KindStdio:
		return newStdioTransport(params, cb)
	case KindTCP:
		return newTCPTransport(params, cb)
	case KindWebSocket:
		return newWebSocketTransport(params, cb)
	default:
		return nil, fmt.Errorf("transport: unknown kind %d", params.Kind)
	}
}

func newStdioTransport(params Params, cb Callbacks) (*Transport, error) {
	cmd := exec.Command(params.Command, params.Args...)
	cmd.Dir = params.WorkingDir
	if len(params.Env) > 0 {
		cmd.Env = append(os.Environ(), params.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: start %s: %w", params.Command, err)
	}

	t := newTransport(stdout, stdin, cb)
	t.cmd = cmd
	t.startReader(stdout)
	t.startStderrDrain(stderr)
	t.startWait()
	return t, nil
}

func newTCPTransport(params Params, cb Callbacks) (*Transport, error) {
	conn, err := net.Dial("tcp", params.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", params.Address, err)
	}
	t := newTransport(conn, conn, cb)
	t.closer = conn
	t.startReader(conn)
	return t, nil
}

func newWebSocketTransport(params Params, cb Callbacks) (*Transport, error) {
	u, err := url.Parse(params.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url %s: %w", params.URL, err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", params.URL, err)
	}
	rwc := &websocketConn{conn: conn}
	t := newTransport(rwc, rwc, cb)
	t.closer = rwc
	t.startReader(rwc)
	return t, nil
}

func newTransport(r io.Reader, w io.Writer, cb Callbacks) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	group, _ := errgroup.WithContext(ctx)
	return &Transport{
		codec:  wire.New(r, w),
		cb:     cb,
		closed: make(chan struct{}),
		joined: make(chan struct{}),
		group:  group,
		cancel: cancel,
	}
}

func (t *Transport) startReader(r io.Reader) {
	t.group.Go(func() error {
		for {
			raw, err := t.codec.ReadFrame()
			if err != nil {
				t.closeWithError(err)
				return err
			}
			t.cb.OnPayload(raw)
		}
	})
}

func (t *Transport) startStderrDrain(r io.Reader) {
	t.group.Go(func() error {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			t.cb.OnStderrMessage(scanner.Text())
		}
		return scanner.Err()
	})
}

func (t *Transport) startWait() {
	go func() {
		err := t.cmd.Wait()
		exitCode := -1
		if t.cmd.ProcessState != nil {
			exitCode = t.cmd.ProcessState.ExitCode()
		}
		t.closeWithResult(exitCode, err)
	}()
}

// Send serializes payload to JSON and frames it onto the wire. Sends
// after the transport has closed are silently dropped per spec.md §4.2.
func (t *Transport) Send(payload any) error {
	select {
	case <-t.closed:
		return nil
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	// Re-check under the write lock: a close may have raced us to it.
	select {
	case <-t.closed:
		return nil
	default:
	}

	return t.codec.WriteFrame(payload)
}

// Close idempotently requests reader shutdown, closes the underlying
// stream, and blocks until the reader/stderr tasks have actually
// returned before returning itself, so a caller never observes Close
// complete while those goroutines could still invoke cb.
func (t *Transport) Close() error {
	t.closeWithResult(-1, nil)
	<-t.joined
	return nil
}

func (t *Transport) closeWithError(err error) {
	exitCode := -1
	if t.cmd != nil && t.cmd.ProcessState != nil {
		exitCode = t.cmd.ProcessState.ExitCode()
	}
	if err == io.EOF {
		err = nil // orderly close
	}
	t.closeWithResult(exitCode, err)
}

// closeWithResult may run on the reader goroutine itself (a read error
// triggers closeWithError synchronously, before that goroutine has
// returned to the errgroup). Waiting on t.group from there would deadlock
// waiting on its own caller, so the join runs on a separate goroutine;
// Close is what actually blocks for it, via t.joined.
func (t *Transport) closeWithResult(exitCode int, err error) {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.cancel()

		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		if t.closer != nil {
			_ = t.closer.Close()
		}

		go func() {
			_ = t.group.Wait()
			t.cb.OnTransportClose(exitCode, err)
			close(t.joined)
		}()
	})
}

// websocketConn adapts a *websocket.Conn to io.ReadWriteCloser so the
// Wire Codec can treat every transport kind identically. Each Write is
// sent as one binary message, so WriteFrame's header and body go out as
// two messages; Read joins incoming messages into one byte stream, so
// ReadFrame's parsing does not depend on where message boundaries fall.
type websocketConn struct {
	conn *websocket.Conn

	mu  sync.Mutex
	buf []byte
}

func (w *websocketConn) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.buf) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.buf = data
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *websocketConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *websocketConn) Close() error {
	return w.conn.Close()
}
