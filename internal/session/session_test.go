package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/firi/lspcore/internal/config"
	"github.com/firi/lspcore/internal/protocol"
	"github.com/firi/lspcore/internal/rpc"
	"github.com/firi/lspcore/internal/transport"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeSender) Send(payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) requestFor(method string) (protocol.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.sent {
		if req, ok := p.(protocol.Request); ok && req.Method == method {
			return req, true
		}
	}
	return protocol.Request{}, false
}

func (f *fakeSender) notificationFor(method string) (protocol.Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.sent {
		if n, ok := p.(protocol.Notification); ok && n.Method == method {
			return n, true
		}
	}
	return protocol.Notification{}, false
}

type nullLogger struct{}

func (nullLogger) Debug(string, ...any) {}
func (nullLogger) Info(string, ...any)  {}
func (nullLogger) Error(string, ...any) {}

type recordingManager struct {
	mu           sync.Mutex
	postInit     int
	postExit     int
	exitCode     int
	diagnostics  []json.RawMessage
	serverName   string
}

func (m *recordingManager) Alive() bool { return true }
func (m *recordingManager) HandleStderrLog(string) {}
func (m *recordingManager) OnPostInitialize() {
	m.mu.Lock()
	m.postInit++
	m.mu.Unlock()
}
func (m *recordingManager) OnPostExit(exitCode int, _ error) {
	m.mu.Lock()
	m.postExit++
	m.exitCode = exitCode
	m.mu.Unlock()
}
func (m *recordingManager) HandleMessageRequest(json.RawMessage, json.RawMessage) {}
func (m *recordingManager) HandleShowMessage(json.RawMessage)                     {}
func (m *recordingManager) HandleLogMessage(json.RawMessage)                      {}
func (m *recordingManager) ApplyWorkspaceEdit(json.RawMessage, json.RawMessage)   {}
func (m *recordingManager) ReceiveDiagnostics(serverName string, params json.RawMessage) {
	m.mu.Lock()
	m.serverName = serverName
	m.diagnostics = append(m.diagnostics, params)
	m.mu.Unlock()
}

func newTestSession(t *testing.T, cfg *config.ClientConfig, folders []protocol.WorkspaceFolder) (*Session, *fakeSender, *recordingManager) {
	t.Helper()
	sender := &fakeSender{}
	client := rpc.New(sender, nullLogger{})
	mgr := &recordingManager{}
	s := New(cfg, folders, client, mgr, nullLogger{})
	return s, sender, mgr
}

func responseFor(id int64, result string, protoErr *protocol.Error) json.RawMessage {
	idRaw, _ := json.Marshal(id)
	resp := protocol.Response{JSONRPC: "2.0", ID: idRaw}
	if protoErr != nil {
		resp.Error = protoErr
	} else {
		resp.Result = json.RawMessage(result)
	}
	b, _ := json.Marshal(resp)
	return b
}

func deliver(s *Session, raw json.RawMessage) {
	s.Callbacks().OnPayload(raw)
}

// S5 — initialize with unsupported folders: 3 folders in, capabilities
// without workspace.workspaceFolders.supported, folder list truncates to
// the first, state becomes READY, and didChangeConfiguration fires iff
// settings are non-empty.
func TestInitializeTruncatesUnsupportedFolders(t *testing.T) {
	cfg := config.New("gopls", transport.Params{Kind: transport.KindStdio})
	cfg.Settings = map[string]any{"gopls": map[string]any{"x": true}}
	folders := []protocol.WorkspaceFolder{
		{URI: "file:///a", Name: "a", Path: "/a"},
		{URI: "file:///b", Name: "b", Path: "/b"},
		{URI: "file:///c", Name: "c", Path: "/c"},
	}
	s, sender, mgr := newTestSession(t, cfg, folders)

	require.NoError(t, s.Initialize())
	req, ok := sender.requestFor("initialize")
	require.True(t, ok)

	deliver(s, responseFor(req.ID, `{"capabilities":{"textDocumentSync":1}}`, nil))

	require.Equal(t, StateReady, s.State())
	require.Len(t, s.Folders(), 1)
	require.Equal(t, "/a", s.Folders()[0].Path)

	_, sentConfig := sender.notificationFor("workspace/didChangeConfiguration")
	require.True(t, sentConfig)
	require.Equal(t, 1, mgr.postInit)
}

func TestInitializeKeepsAllFoldersWhenSupported(t *testing.T) {
	cfg := config.New("gopls", transport.Params{Kind: transport.KindStdio})
	folders := []protocol.WorkspaceFolder{
		{URI: "file:///a", Name: "a", Path: "/a"},
		{URI: "file:///b", Name: "b", Path: "/b"},
	}
	s, sender, _ := newTestSession(t, cfg, folders)

	require.NoError(t, s.Initialize())
	req, _ := sender.requestFor("initialize")
	deliver(s, responseFor(req.ID, `{"capabilities":{"workspace":{"workspaceFolders":{"supported":true}}}}`, nil))

	require.Len(t, s.Folders(), 2)

	_, sentConfig := sender.notificationFor("workspace/didChangeConfiguration")
	require.False(t, sentConfig, "no settings configured, should not emit didChangeConfiguration")
}

func TestInitializeErrorEndsSession(t *testing.T) {
	cfg := config.New("gopls", transport.Params{Kind: transport.KindStdio})
	s, sender, _ := newTestSession(t, cfg, nil)

	require.NoError(t, s.Initialize())
	req, _ := sender.requestFor("initialize")
	deliver(s, responseFor(req.ID, "", &protocol.Error{Code: 1, Message: "nope"}))

	require.Equal(t, StateStopping, s.State())
	_, sentShutdown := sender.requestFor("shutdown")
	require.True(t, sentShutdown)
}

// S4 — workspace/configuration dotted resolution.
func TestWorkspaceConfigurationResolvesDottedSections(t *testing.T) {
	cfg := config.New("pyright", transport.Params{Kind: transport.KindStdio})
	cfg.Settings = map[string]any{"python": map[string]any{"pythonPath": "/usr/bin/py"}}
	s, sender, _ := newTestSession(t, cfg, nil)

	params, _ := json.Marshal(map[string]any{
		"items": []map[string]any{{"section": "python.pythonPath"}, {"section": ""}, {}},
	})
	raw, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 7, "method": "workspace/configuration", "params": json.RawMessage(params)})
	deliver(s, raw)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	var resp protocol.Response
	for _, p := range sender.sent {
		if r, ok := p.(protocol.Response); ok {
			resp = r
		}
	}
	require.NotNil(t, resp.Result)

	var got []any
	require.NoError(t, json.Unmarshal(resp.Result, &got))
	require.Equal(t, "/usr/bin/py", got[0])
	require.Equal(t, map[string]any{"python": map[string]any{"pythonPath": "/usr/bin/py"}}, got[1])
	require.Equal(t, map[string]any{"python": map[string]any{"pythonPath": "/usr/bin/py"}}, got[2])
}

// S6 — graceful shutdown: end() from READY clears capabilities, sends
// shutdown, sends exit on response, and a subsequent transport close
// fires OnPostExit exactly once with no further sends.
func TestGracefulShutdown(t *testing.T) {
	cfg := config.New("gopls", transport.Params{Kind: transport.KindStdio})
	s, sender, mgr := newTestSession(t, cfg, nil)

	require.NoError(t, s.Initialize())
	initReq, _ := sender.requestFor("initialize")
	deliver(s, responseFor(initReq.ID, `{"capabilities":{}}`, nil))
	require.Equal(t, StateReady, s.State())

	s.End()
	require.Equal(t, StateStopping, s.State())
	require.Empty(t, s.capsMap())

	shutdownReq, ok := sender.requestFor("shutdown")
	require.True(t, ok)
	deliver(s, responseFor(shutdownReq.ID, "null", nil))

	_, exitSent := sender.notificationFor("exit")
	require.True(t, exitSent)

	s.Callbacks().OnTransportClose(0, nil)
	require.Equal(t, StateStopped, s.State())
	require.Equal(t, 1, mgr.postExit)
	require.Equal(t, 0, mgr.exitCode)
}

// Capability decoder totality (spec.md §8 invariant 6): every shape of
// textDocumentSync produces a definite bool, never a panic.
func TestCapabilityDecodersAreTotal(t *testing.T) {
	shapes := []string{
		`{}`,
		`{"textDocumentSync":1}`,
		`{"textDocumentSync":2}`,
		`{"textDocumentSync":{"openClose":true,"change":2,"save":{"includeText":true}}}`,
		`{"textDocumentSync":{"save":true}}`,
		`{"textDocumentSync":"unexpected-string"}`,
		`{"textDocumentSync":null}`,
	}
	cfg := config.New("x", transport.Params{Kind: transport.KindStdio})
	for _, shape := range shapes {
		s, sender, _ := newTestSession(t, cfg, nil)
		require.NoError(t, s.Initialize())
		req, _ := sender.requestFor("initialize")
		deliver(s, responseFor(req.ID, `{"capabilities":`+shape+`}`, nil))

		require.NotPanics(t, func() {
			_ = s.ShouldNotifyDidOpen()
			_ = s.ShouldNotifyDidClose()
			_ = s.ShouldNotifyDidChange()
			_ = s.ShouldNotifyWillSave()
			_ = s.ShouldRequestWillSaveWaitUntil()
			_, _ = s.ShouldNotifyDidSave()
			_ = s.TextSyncKind()
		})
	}
}

func TestShouldNotifyDidSaveVariants(t *testing.T) {
	cfg := config.New("x", transport.Params{Kind: transport.KindStdio})

	cases := []struct {
		shape        string
		wantEnabled  bool
		wantIncludes bool
	}{
		{`{"textDocumentSync":{"save":{"includeText":true}}}`, true, true},
		{`{"textDocumentSync":{"save":{}}}`, true, false},
		{`{"textDocumentSync":{"save":true}}`, true, false},
		{`{"textDocumentSync":{"save":false}}`, false, false},
		{`{"textDocumentSync":{}}`, false, false},
		{`{}`, false, false},
	}
	for _, tc := range cases {
		s, sender, _ := newTestSession(t, cfg, nil)
		require.NoError(t, s.Initialize())
		req, _ := sender.requestFor("initialize")
		deliver(s, responseFor(req.ID, `{"capabilities":`+tc.shape+`}`, nil))

		enabled, includeText := s.ShouldNotifyDidSave()
		require.Equal(t, tc.wantEnabled, enabled, tc.shape)
		require.Equal(t, tc.wantIncludes, includeText, tc.shape)
	}
}

// spec.md §8 invariant 5: handles_path with no folders returns true for
// any non-empty path, and false for an empty path regardless of folders.
func TestHandlesPathInvariant(t *testing.T) {
	cfg := config.New("x", transport.Params{Kind: transport.KindStdio})
	s, _, _ := newTestSession(t, cfg, nil)
	require.True(t, s.HandlesPath("/anything"))
	require.False(t, s.HandlesPath(""))

	s2, _, _ := newTestSession(t, cfg, []protocol.WorkspaceFolder{{URI: "file:///root", Name: "root", Path: "/root"}})
	require.True(t, s2.HandlesPath("/root/pkg/file.go"))
	require.False(t, s2.HandlesPath("/other/file.go"))
	require.False(t, s2.HandlesPath(""))
}

func TestUpdateFoldersDeterministicNoOp(t *testing.T) {
	cfg := config.New("x", transport.Params{Kind: transport.KindStdio})
	folders := []protocol.WorkspaceFolder{{URI: "file:///a", Name: "a", Path: "/a"}}
	s, sender, _ := newTestSession(t, cfg, folders)

	require.NoError(t, s.Initialize())
	req, _ := sender.requestFor("initialize")
	deliver(s, responseFor(req.ID, `{"capabilities":{"workspace":{"workspaceFolders":{"supported":true}}}}`, nil))

	s.UpdateFolders(folders)

	n, ok := sender.notificationFor("workspace/didChangeWorkspaceFolders")
	require.True(t, ok)
	var payload struct {
		Event struct {
			Added   []protocol.WorkspaceFolder `json:"added"`
			Removed []protocol.WorkspaceFolder `json:"removed"`
		} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(n.Params, &payload))
	require.Empty(t, payload.Event.Added)
	require.Empty(t, payload.Event.Removed)
}

func TestPublishDiagnosticsForwardsToHostKeyedByName(t *testing.T) {
	cfg := config.New("rust-analyzer", transport.Params{Kind: transport.KindStdio})
	s, _, mgr := newTestSession(t, cfg, nil)

	raw, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "textDocument/publishDiagnostics", "params": map[string]any{"uri": "file:///a.rs"}})
	deliver(s, raw)

	require.Equal(t, "rust-analyzer", mgr.serverName)
	require.Len(t, mgr.diagnostics, 1)
}

func TestProgressTracksBusy(t *testing.T) {
	cfg := config.New("clangd", transport.Params{Kind: transport.KindStdio})
	s, _, _ := newTestSession(t, cfg, nil)

	begin, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "$/progress", "params": map[string]any{"token": "1", "value": map[string]any{"kind": "begin"}}})
	deliver(s, begin)
	require.True(t, s.Busy())

	end, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "$/progress", "params": map[string]any{"token": "1", "value": map[string]any{"kind": "end"}}})
	deliver(s, end)
	require.False(t, s.Busy())
}

func TestExecuteRequestFiresCancelOnTimeout(t *testing.T) {
	cfg := config.New("x", transport.Params{Kind: transport.KindStdio})
	cfg.CancelOnTimeout = true
	s, sender, _ := newTestSession(t, cfg, nil)

	timeout := make(chan struct{})
	close(timeout)
	_, err := s.ExecuteRequest(context.Background(), "x/y", nil, timeout)
	require.ErrorIs(t, err, rpc.ErrTimeout)

	_, ok := sender.notificationFor("$/cancelRequest")
	require.True(t, ok)
}
