// Package hostmanager defines the upward interface the Session calls for
// editor-side effects (spec.md §4.5). The Session never owns the host
// strongly; callers hand it a Manager that can report whether it is
// still alive, modeling the "weak back-reference" design note in
// spec.md §9 without relying on language-level weak pointers.
package hostmanager

import "encoding/json"

// Manager is the full set of host-integration callbacks a Session may
// invoke. Implementations must tolerate being called from the reader
// goroutine and must not block indefinitely.
type Manager interface {
	// Alive reports whether this manager is still usable. Once false,
	// every other method below is expected to be a safe no-op.
	Alive() bool

	HandleStderrLog(line string)
	OnPostInitialize()
	OnPostExit(exitCode int, err error)
	HandleMessageRequest(params json.RawMessage, requestID json.RawMessage)
	HandleShowMessage(params json.RawMessage)
	HandleLogMessage(params json.RawMessage)
	ApplyWorkspaceEdit(params json.RawMessage, requestID json.RawMessage)

	// ReceiveDiagnostics is the diagnostics sink, keyed by server name.
	ReceiveDiagnostics(serverName string, params json.RawMessage)
}

// Noop turns every callback into a no-op. It stands in for a manager
// reference that has been reclaimed, or for callers that have no host
// integration at all (headless use, tests).
type Noop struct{}

func (Noop) Alive() bool                                                  { return true }
func (Noop) HandleStderrLog(string)                                       {}
func (Noop) OnPostInitialize()                                            {}
func (Noop) OnPostExit(int, error)                                        {}
func (Noop) HandleMessageRequest(json.RawMessage, json.RawMessage)        {}
func (Noop) HandleShowMessage(json.RawMessage)                            {}
func (Noop) HandleLogMessage(json.RawMessage)                             {}
func (Noop) ApplyWorkspaceEdit(json.RawMessage, json.RawMessage)          {}
func (Noop) ReceiveDiagnostics(string, json.RawMessage)                   {}

// Guarded wraps a Manager so every call first checks Alive() and is
// silently skipped when it reports false, per spec.md §4.5: "If the
// manager reference has been reclaimed, all of the above are no-ops."
type Guarded struct {
	Manager Manager
}

func (g Guarded) alive() bool {
	return g.Manager != nil && g.Manager.Alive()
}

func (g Guarded) HandleStderrLog(line string) {
	if g.alive() {
		g.Manager.HandleStderrLog(line)
	}
}

func (g Guarded) OnPostInitialize() {
	if g.alive() {
		g.Manager.OnPostInitialize()
	}
}

func (g Guarded) OnPostExit(exitCode int, err error) {
	if g.alive() {
		g.Manager.OnPostExit(exitCode, err)
	}
}

func (g Guarded) HandleMessageRequest(params, requestID json.RawMessage) {
	if g.alive() {
		g.Manager.HandleMessageRequest(params, requestID)
	}
}

func (g Guarded) HandleShowMessage(params json.RawMessage) {
	if g.alive() {
		g.Manager.HandleShowMessage(params)
	}
}

func (g Guarded) HandleLogMessage(params json.RawMessage) {
	if g.alive() {
		g.Manager.HandleLogMessage(params)
	}
}

func (g Guarded) ApplyWorkspaceEdit(params, requestID json.RawMessage) {
	if g.alive() {
		g.Manager.ApplyWorkspaceEdit(params, requestID)
	}
}

func (g Guarded) ReceiveDiagnostics(serverName string, params json.RawMessage) {
	if g.alive() {
		g.Manager.ReceiveDiagnostics(serverName, params)
	}
}
