// Package session implements the per-server LSP session state machine
// described in spec.md §4.4: the initialize handshake, capability cache,
// workspace-folder tracking, and handlers for the server-originated
// methods a client core must answer directly. It owns an *rpc.Client
// exclusively and drives it with LSP semantics.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/firi/lspcore/internal/config"
	"github.com/firi/lspcore/internal/hostmanager"
	"github.com/firi/lspcore/internal/protocol"
	"github.com/firi/lspcore/internal/rpc"
	"github.com/firi/lspcore/internal/transport"
)

// Logger is the structured-logging surface Session consumes; satisfied
// directly by *logger.FileLogger and logger.NullLogger.
type Logger = rpc.Logger

// State is a Session's position in the lifecycle table of spec.md §4.4.
// Transitions are monotonic: a Session never re-enters STARTING, and
// STOPPING only ever advances to STOPPED.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateReady:
		return "READY"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// textDocumentSync change-kind values, per the LSP's TextDocumentSyncKind.
const (
	SyncNone = iota
	SyncFull
	SyncIncremental
)

// ClientName is advertised as clientInfo.name on every initialize request.
const ClientName = "lspcore"

// Session drives one language server connection: initialize handshake,
// capability-gated behavior, workspace folder bookkeeping, and the
// server-originated method handlers spec.md §4.4 lists.
type Session struct {
	config  *config.ClientConfig
	client  *rpc.Client
	manager hostmanager.Guarded
	log     Logger

	state int32 // State, accessed atomically

	foldersMu  sync.Mutex
	folderList []protocol.WorkspaceFolder

	// caps is published via an atomic pointer swap rather than a
	// read/write lock (spec.md §5's preferred option): writers install
	// a brand new map, readers dereference whatever was current when
	// they loaded it.
	caps atomic.Pointer[map[string]any]

	progressMu     sync.Mutex
	progressTokens map[string]struct{}

	restartCount int32
}

// New constructs a Session in STARTING state and registers its static
// server-originated method dispatch table on client. initialFolders is
// the workspace-folder set discovered by the (out-of-scope) editor
// integration before the session existed.
func New(cfg *config.ClientConfig, initialFolders []protocol.WorkspaceFolder, client *rpc.Client, manager hostmanager.Manager, log Logger) *Session {
	if manager == nil {
		manager = hostmanager.Noop{}
	}
	s := &Session{
		config:         cfg,
		client:         client,
		manager:        hostmanager.Guarded{Manager: manager},
		log:            log,
		folderList:     append([]protocol.WorkspaceFolder(nil), initialFolders...),
		progressTokens: make(map[string]struct{}),
	}
	empty := map[string]any{}
	s.caps.Store(&empty)
	atomic.StoreInt32(&s.state, int32(StateStarting))
	s.registerHandlers()
	return s
}

// Callbacks returns the transport.Callbacks adapter wiring Transport's
// reader/stderr/close events into this Session, marking inbound payload
// dispatch as happening on the reader goroutine so ExecuteRequest's
// deadlock check works.
func (s *Session) Callbacks() transport.Callbacks {
	return sessionCallbacks{s: s}
}

type sessionCallbacks struct{ s *Session }

func (c sessionCallbacks) OnPayload(raw json.RawMessage) {
	c.s.client.OnPayload(rpc.ReaderContext(context.Background()), raw)
}

func (c sessionCallbacks) OnStderrMessage(line string) {
	c.s.manager.HandleStderrLog(line)
}

func (c sessionCallbacks) OnTransportClose(exitCode int, err error) {
	c.s.client.Shutdown()
	c.s.setState(StateStopped)
	c.s.manager.OnPostExit(exitCode, err)
}

func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

// setState advances the state to st; a transition that would move
// backward (e.g. End after the transport has already closed) is ignored.
func (s *Session) setState(st State) {
	for {
		cur := atomic.LoadInt32(&s.state)
		if int32(st) <= cur {
			return
		}
		if atomic.CompareAndSwapInt32(&s.state, cur, int32(st)) {
			return
		}
	}
}

// Folders returns the current workspace-folder set.
func (s *Session) Folders() []protocol.WorkspaceFolder {
	s.foldersMu.Lock()
	defer s.foldersMu.Unlock()
	return append([]protocol.WorkspaceFolder(nil), s.folderList...)
}

func (s *Session) setFolders(f []protocol.WorkspaceFolder) {
	s.foldersMu.Lock()
	s.folderList = f
	s.foldersMu.Unlock()
}

// Busy reports whether any $/progress token is currently open, e.g. a
// server-side indexing pass in flight.
func (s *Session) Busy() bool {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	return len(s.progressTokens) > 0
}

// NoteRestart increments the observability counter a host increments
// each time it respawns this session's server process. The process
// spawn itself is out of scope here (spec.md §1); counting it is not.
func (s *Session) NoteRestart() { atomic.AddInt32(&s.restartCount, 1) }

func (s *Session) RestartCount() int { return int(atomic.LoadInt32(&s.restartCount)) }

// Initialize builds and sends the initialize request asynchronously, per
// spec.md §4.4. It does not block on the handshake; the success/error
// handlers drive the STARTING→READY or STARTING→STOPPING transition.
func (s *Session) Initialize() error {
	pid := os.Getpid()
	folders := s.Folders()

	var rootURI, rootPath *string
	if len(folders) > 0 {
		rootURI = &folders[0].URI
		rootPath = &folders[0].Path
	}

	var initOpts json.RawMessage
	if len(s.config.InitOptions) > 0 {
		raw, err := json.Marshal(s.config.InitOptions)
		if err != nil {
			return fmt.Errorf("session: encode initializationOptions: %w", err)
		}
		initOpts = raw
	}

	params := protocol.InitializeParams{
		ProcessID:             &pid,
		ClientInfo:            protocol.ClientInfo{Name: ClientName},
		RootURI:               rootURI,
		RootPath:              rootPath,
		WorkspaceFolders:      folders,
		Capabilities:          protocol.DefaultClientCapabilities(),
		InitializationOptions: initOpts,
	}

	return s.client.SendRequest("initialize", params, s.onInitializeResult, s.onInitializeError)
}

func (s *Session) onInitializeResult(result json.RawMessage) {
	var ir protocol.InitializeResult
	if err := json.Unmarshal(result, &ir); err != nil {
		s.log.Error("session: %s: unparsable initialize result: %v", s.config.Name, err)
		s.End()
		return
	}

	caps := map[string]any{}
	if len(ir.Capabilities) > 0 {
		if err := json.Unmarshal(ir.Capabilities, &caps); err != nil {
			s.log.Error("session: %s: unparsable capabilities object: %v", s.config.Name, err)
		}
	}
	s.caps.Store(&caps)

	folders := s.Folders()
	switch {
	case len(folders) == 0:
		s.log.Info("session: %s initialized with no workspace folders", s.config.Name)
	case !s.hasCapability("workspace.workspaceFolders.supported"):
		s.setFolders(folders[:1])
	}

	s.setState(StateReady)

	if len(s.config.Settings) > 0 {
		_ = s.client.SendNotification("workspace/didChangeConfiguration", map[string]any{"settings": s.config.Settings})
	}

	s.manager.OnPostInitialize()
}

func (s *Session) onInitializeError(protoErr *protocol.Error) {
	s.log.Error("session: %s failed to initialize: %v", s.config.Name, protoErr)
	s.End()
}

// End drives READY (or STARTING, on initialize failure) to STOPPING:
// clear capabilities, send shutdown, and on either response branch send
// exit. OnTransportClose (wired via Callbacks) completes STOPPING→STOPPED
// once the underlying process/connection actually closes.
func (s *Session) End() {
	s.log.Debug("session: %s ending", s.config.Name)
	empty := map[string]any{}
	s.caps.Store(&empty)
	s.setState(StateStopping)
	if err := s.client.SendRequest("shutdown", nil, s.onShutdownResult, s.onShutdownError); err != nil {
		// Could not even enqueue the shutdown request (transport already
		// gone); fall straight to exit so Shutdown/OnTransportClose still run.
		_ = s.client.Exit()
	}
}

func (s *Session) onShutdownResult(json.RawMessage) { _ = s.client.Exit() }
func (s *Session) onShutdownError(*protocol.Error)  { _ = s.client.Exit() }

// ExecuteRequest wraps rpc.Client.ExecuteRequest so a timeout can
// optionally fire a best-effort $/cancelRequest for the abandoned id,
// per ClientConfig.CancelOnTimeout (SPEC_FULL.md §4.4 supplement).
func (s *Session) ExecuteRequest(ctx context.Context, method string, params any, timeout <-chan struct{}) (json.RawMessage, error) {
	var id int64
	ctx = rpc.WithIDCapture(ctx, &id)
	result, err := s.client.ExecuteRequest(ctx, method, params, timeout)
	if errors.Is(err, rpc.ErrTimeout) && s.config.CancelOnTimeout && id != 0 {
		_ = s.client.SendNotification("$/cancelRequest", map[string]any{"id": id})
	}
	return result, err
}

// SendResponse and SendErrorResponse let a host complete a deferred
// reply (window/showMessageRequest, workspace/applyEdit) once its UI
// round-trip finishes.
func (s *Session) SendResponse(id json.RawMessage, result any) error {
	return s.client.SendResponse(id, result)
}

func (s *Session) SendErrorResponse(id json.RawMessage, protoErr *protocol.Error) error {
	return s.client.SendErrorResponse(id, protoErr)
}

// HandlesPath reports whether path falls under any tracked workspace
// folder. An empty path never matches; an empty folder set matches
// everything (spec.md §8 invariant 5).
func (s *Session) HandlesPath(path string) bool {
	if path == "" {
		return false
	}
	folders := s.Folders()
	if len(folders) == 0 {
		return true
	}
	clean := filepath.Clean(path)
	for _, f := range folders {
		if isSubpath(f.Path, clean) {
			return true
		}
	}
	return false
}

func isSubpath(root, path string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// UpdateFolders, if the server advertises workspaceFolders support,
// replaces the tracked folder set and notifies the server of the
// added/removed delta; otherwise it does nothing and the tracked set is
// left unchanged. A no-op call (same set twice) still emits one notification with
// empty added/removed arrays: deterministic, per spec.md §8's law.
func (s *Session) UpdateFolders(newFolders []protocol.WorkspaceFolder) {
	if !s.hasCapability("workspace.workspaceFolders.supported") {
		return
	}

	old := s.Folders()
	added := orderedDifference(newFolders, old)
	removed := orderedDifference(old, newFolders)
	s.setFolders(append([]protocol.WorkspaceFolder(nil), newFolders...))

	_ = s.client.SendNotification("workspace/didChangeWorkspaceFolders", map[string]any{
		"event": map[string]any{"added": added, "removed": removed},
	})
}

// orderedDifference returns the elements of a not present in b, in a's order.
func orderedDifference(a, b []protocol.WorkspaceFolder) []protocol.WorkspaceFolder {
	inB := make(map[protocol.WorkspaceFolder]struct{}, len(b))
	for _, f := range b {
		inB[f] = struct{}{}
	}
	out := []protocol.WorkspaceFolder{}
	for _, f := range a {
		if _, ok := inB[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// --- Capability-query predicates (spec.md §4.4) ---

func (s *Session) capsMap() map[string]any {
	p := s.caps.Load()
	if p == nil {
		return map[string]any{}
	}
	return *p
}

func (s *Session) hasCapability(name string) bool {
	v, ok := config.GetDotted(s.capsMap(), name)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	return !(isBool && !b)
}

func (s *Session) textDocumentSyncValue() (any, bool) {
	v, ok := s.capsMap()["textDocumentSync"]
	return v, ok
}

// ShouldNotifyDidOpen and ShouldNotifyDidClose share the same decision:
// textDocumentSync is an object with a truthy openClose, or an integer
// greater than SyncNone.
func (s *Session) ShouldNotifyDidOpen() bool  { return s.syncOpenClose() }
func (s *Session) ShouldNotifyDidClose() bool { return s.syncOpenClose() }

func (s *Session) syncOpenClose() bool {
	v, ok := s.textDocumentSyncValue()
	if !ok {
		return false
	}
	switch t := v.(type) {
	case map[string]any:
		b, _ := t["openClose"].(bool)
		return b
	case float64:
		return int(t) > SyncNone
	default:
		return false
	}
}

// TextSyncKind decodes textDocumentSync's effective change kind. Total
// over every possible shape: absent, int, object, or unrelated type all
// produce a definite result (spec.md §8 invariant 6).
func (s *Session) TextSyncKind() int {
	v, ok := s.textDocumentSyncValue()
	if !ok {
		return SyncNone
	}
	switch t := v.(type) {
	case map[string]any:
		c, ok := t["change"]
		if !ok {
			return SyncNone
		}
		return toInt(c, SyncNone)
	case float64:
		return int(t)
	default:
		return SyncNone
	}
}

func toInt(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func (s *Session) ShouldNotifyDidChange() bool { return s.TextSyncKind() > SyncNone }

func (s *Session) ShouldNotifyWillSave() bool           { return s.syncFlag("willSave") }
func (s *Session) ShouldRequestWillSaveWaitUntil() bool { return s.syncFlag("willSaveWaitUntil") }

func (s *Session) syncFlag(field string) bool {
	v, ok := s.textDocumentSyncValue()
	if !ok {
		return false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	b, _ := m[field].(bool)
	return b
}

// ShouldNotifyDidSave reports whether didSave notifications should be
// sent and, if so, whether they must carry the full document text.
func (s *Session) ShouldNotifyDidSave() (enabled bool, includeText bool) {
	v, ok := s.textDocumentSyncValue()
	if !ok {
		return false, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return false, false
	}
	save, ok := m["save"]
	if !ok {
		return false, false
	}
	switch sv := save.(type) {
	case map[string]any:
		inc, _ := sv["includeText"].(bool)
		return true, inc
	case bool:
		return sv, false
	default:
		return false, false
	}
}

// --- Server-originated method handlers (spec.md §4.4) ---

func (s *Session) registerHandlers() {
	s.client.RegisterMethod("window/showMessageRequest", s.handleShowMessageRequest)
	s.client.RegisterMethod("window/showMessage", s.handleShowMessage)
	s.client.RegisterMethod("window/logMessage", s.handleLogMessage)
	s.client.RegisterMethod("workspace/workspaceFolders", s.handleWorkspaceFolders)
	s.client.RegisterMethod("workspace/configuration", s.handleConfiguration)
	s.client.RegisterMethod("workspace/applyEdit", s.handleApplyEdit)
	s.client.RegisterMethod("textDocument/publishDiagnostics", s.handlePublishDiagnostics)
	s.client.RegisterMethod("$/progress", s.handleProgress)
	s.client.RegisterMethod("window/workDoneProgress/create", s.handleCreateWorkDoneProgress)
}

func (s *Session) handleShowMessageRequest(_ context.Context, id json.RawMessage, params json.RawMessage) (any, *protocol.Error) {
	s.manager.HandleMessageRequest(params, id)
	return nil, rpc.DeferredResponse
}

func (s *Session) handleShowMessage(_ context.Context, _ json.RawMessage, params json.RawMessage) (any, *protocol.Error) {
	s.manager.HandleShowMessage(params)
	return nil, nil
}

// handleLogMessage forwards to the host without ever logging the
// incoming payload itself (spec.md §4.4's noise-suppression rule).
func (s *Session) handleLogMessage(_ context.Context, _ json.RawMessage, params json.RawMessage) (any, *protocol.Error) {
	s.manager.HandleLogMessage(params)
	return nil, nil
}

func (s *Session) handleWorkspaceFolders(_ context.Context, _ json.RawMessage, _ json.RawMessage) (any, *protocol.Error) {
	return s.Folders(), nil
}

type configurationItem struct {
	Section string `json:"section"`
}

type configurationParams struct {
	Items []configurationItem `json:"items"`
}

func (s *Session) handleConfiguration(_ context.Context, _ json.RawMessage, params json.RawMessage) (any, *protocol.Error) {
	var p configurationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, protocol.InternalErrorFrom(err)
	}

	result := make([]any, len(p.Items))
	for i, item := range p.Items {
		if item.Section == "" {
			result[i] = s.config.Settings
			continue
		}
		if v, ok := config.GetDotted(s.config.Settings, item.Section); ok {
			result[i] = v
		}
	}
	return result, nil
}

func (s *Session) handleApplyEdit(_ context.Context, id json.RawMessage, params json.RawMessage) (any, *protocol.Error) {
	s.manager.ApplyWorkspaceEdit(params, id)
	return nil, rpc.DeferredResponse
}

func (s *Session) handlePublishDiagnostics(_ context.Context, _ json.RawMessage, params json.RawMessage) (any, *protocol.Error) {
	s.manager.ReceiveDiagnostics(s.config.Name, params)
	return nil, nil
}

type progressParams struct {
	Token json.RawMessage `json:"token"`
	Value struct {
		Kind string `json:"kind"`
	} `json:"value"`
}

func (s *Session) handleProgress(_ context.Context, _ json.RawMessage, params json.RawMessage) (any, *protocol.Error) {
	var p progressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil
	}
	token := string(p.Token)

	s.progressMu.Lock()
	switch p.Value.Kind {
	case "begin":
		s.progressTokens[token] = struct{}{}
	case "end":
		delete(s.progressTokens, token)
	}
	s.progressMu.Unlock()

	return nil, nil
}

func (s *Session) handleCreateWorkDoneProgress(_ context.Context, _ json.RawMessage, _ json.RawMessage) (any, *protocol.Error) {
	return nil, nil
}
